package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/no2-dashboard/internal/models"
	"github.com/kjstillabower/no2-dashboard/internal/observability"
)

// Renderer is implemented by the view controller. Rendering through it
// populates the render cache. Used by CacheWarmer to avoid a dependency on the
// view package.
type Renderer interface {
	RenderJSON(ctx context.Context, tab string, filter models.FilterState) ([]byte, error)
}

// CacheWarmer pre-renders tabs so the first page view is served from cache.
type CacheWarmer struct {
	renderer Renderer
	logger   *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given renderer and logger.
func NewCacheWarmer(renderer Renderer, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{renderer: renderer, logger: logger}
}

// Warm renders every tab for filter concurrently. Returns an aggregated error
// if any tab failed.
func (w *CacheWarmer) Warm(ctx context.Context, tabs []string, filter models.FilterState) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming render cache", zap.Int("tabs", len(tabs)), zap.String("filter", filter.Key()))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(tabs))
	for _, tab := range tabs {
		tab := tab
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.renderer.RenderJSON(ctx, tab, filter); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", tab, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("tabs", len(tabs)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}
