package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/no2-dashboard/internal/aggregate"
	"github.com/kjstillabower/no2-dashboard/internal/cache"
	"github.com/kjstillabower/no2-dashboard/internal/dataset"
	"github.com/kjstillabower/no2-dashboard/internal/models"
	"github.com/kjstillabower/no2-dashboard/internal/observability"
	"github.com/kjstillabower/no2-dashboard/internal/presentation"
)

// ErrDatasetUnavailable wraps any load failure surfaced through the controller.
var ErrDatasetUnavailable = errors.New("dataset unavailable")

// DatasetSource provides memoized datasets. Implemented by *dataset.Store.
type DatasetSource interface {
	Get(ctx context.Context, path string) (*dataset.Dataset, error)
	Reload(ctx context.Context, path string) (*dataset.Dataset, error)
	Refresh(ctx context.Context, path string) (bool, error)
}

// purger is implemented by caches that can be emptied in place.
type purger interface {
	Purge()
}

// Options describes the filter widgets: which cities and years can be chosen.
type Options struct {
	Cities   []string           `json:"cities"`
	MinYear  int                `json:"minYear"`
	MaxYear  int                `json:"maxYear"`
	Default  models.FilterState `json:"default"`
	Tabs     []presentation.Tab `json:"tabs"`
	Version  string             `json:"version"`
	Records  int                `json:"records"`
	Skipped  int                `json:"skipped"`
	LoadedAt time.Time          `json:"loadedAt"`
}

// Controller turns a filter into a render spec for one tab. All tabs share the
// same FilterState; only the requested tab is computed.
type Controller struct {
	source DatasetSource
	path   string
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
	// renders coalesces concurrent misses for the same cache key.
	renders singleflight.Group
}

// NewController creates a Controller reading path through source. c may be nil
// to disable the render cache.
func NewController(source DatasetSource, path string, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		source: source,
		path:   path,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Path returns the data file the controller serves.
func (c *Controller) Path() string {
	return c.path
}

// Dataset returns the current dataset, loading it on first use.
func (c *Controller) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	ds, err := c.source.Get(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatasetUnavailable, err)
	}
	return ds, nil
}

// DefaultFilter selects the first city alphabetically over the full year range.
func DefaultFilter(ds *dataset.Dataset) models.FilterState {
	f := models.FilterState{FromYear: ds.First.Year, ToYear: ds.Last.Year}
	if len(ds.Cities) > 0 {
		f.Cities = []string{ds.Cities[0]}
	}
	return f
}

// Options returns the widget options for the current dataset.
func (c *Controller) Options(ctx context.Context) (Options, error) {
	ds, err := c.Dataset(ctx)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Cities:   append([]string(nil), ds.Cities...),
		MinYear:  ds.First.Year,
		MaxYear:  ds.Last.Year,
		Default:  DefaultFilter(ds),
		Tabs:     presentation.Tabs,
		Version:  ds.Version,
		Records:  len(ds.Records),
		Skipped:  ds.Skipped,
		LoadedAt: ds.LoadedAt,
	}, nil
}

// Render computes the render spec for tab. An empty selection yields a
// placeholder spec with a warning, never an error.
func (c *Controller) Render(ctx context.Context, tab presentation.Tab, filter models.FilterState) (presentation.RenderSpec, error) {
	ds, err := c.Dataset(ctx)
	if err != nil {
		observability.RecordViewRender(string(tab), "error", 0)
		return presentation.RenderSpec{}, err
	}
	return c.render(ctx, ds, tab, filter), nil
}

// RenderJSON returns the encoded render spec for tab, served from the render
// cache when the same (dataset version, tab, filter) was rendered before.
func (c *Controller) RenderJSON(ctx context.Context, tab string, filter models.FilterState) ([]byte, error) {
	t, err := presentation.ParseTab(tab)
	if err != nil {
		return nil, fmt.Errorf("render %q: %w", tab, err)
	}
	ds, err := c.Dataset(ctx)
	if err != nil {
		observability.RecordViewRender(tab, "error", 0)
		return nil, err
	}
	logger := observability.LoggerFromContext(ctx, c.logger)
	key := cacheKey(ds.Version, t, filter)

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			observability.CacheErrorsTotal.WithLabelValues("get").Inc()
			logger.Warn("render cache get failed", zap.String("tab", tab), zap.Error(err))
		} else if ok {
			observability.CacheHitsTotal.WithLabelValues("render").Inc()
			logger.Debug("render cache hit", zap.String("tab", tab), zap.String("filter", filter.Key()))
			return cached, nil
		}
	}

	v, err, shared := c.renders.Do(key, func() (interface{}, error) {
		spec := c.render(ctx, ds, t, filter)
		raw, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("encode %s view: %w", tab, err)
		}
		if c.cache != nil {
			if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
				observability.CacheErrorsTotal.WithLabelValues("set").Inc()
				logger.Warn("render cache set failed", zap.String("tab", tab), zap.Error(err))
			}
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		observability.RenderCoalescedTotal.Inc()
	}
	return v.([]byte), nil
}

func (c *Controller) render(ctx context.Context, ds *dataset.Dataset, tab presentation.Tab, filter models.FilterState) presentation.RenderSpec {
	start := time.Now()
	spec := Build(ds.Records, tab, filter)
	status := "ok"
	if spec.Empty {
		status = "empty"
	}
	duration := time.Since(start)
	observability.RecordViewRender(string(tab), status, duration)
	observability.LoggerFromContext(ctx, c.logger).Debug("view rendered",
		zap.String("tab", string(tab)),
		zap.String("filter", filter.Key()),
		zap.String("status", status),
		zap.Duration("duration", duration))
	return spec
}

// Build is the pure (records, filter) -> render spec function for one tab.
// The EU27 baseline is the mean over all cities in the year range, not only
// the selected ones.
func Build(records []models.Measurement, tab presentation.Tab, filter models.FilterState) presentation.RenderSpec {
	if len(filter.Cities) == 0 {
		return presentation.Placeholder(tab, filter, presentation.NoSelectionWarning)
	}
	selected := aggregate.FilterRecords(records, filter)
	if len(selected) == 0 {
		return presentation.Placeholder(tab, filter, presentation.NoDataWarning)
	}

	switch tab {
	case presentation.TabTimeSeries:
		eu27 := aggregate.EU27Aggregate(aggregate.FilterYears(records, filter.FromYear, filter.ToYear))
		return presentation.TimeSeries(filter, aggregate.MonthlyByCity(selected, filter), eu27, aggregate.AverageByCity(selected, filter))
	case presentation.TabMonthly:
		eu27 := aggregate.EU27Aggregate(aggregate.FilterYears(records, filter.FromYear, filter.ToYear))
		return presentation.MonthlyBars(filter, aggregate.MonthlyByCity(selected, filter), eu27)
	case presentation.TabCorrelation:
		return presentation.CorrelationScatter(filter, aggregate.CorrelationByCity(selected, filter))
	case presentation.TabSeasonal:
		return presentation.SeasonalBoxplot(filter, aggregate.SeasonalDistribution(selected, filter))
	default:
		return presentation.Placeholder(tab, filter, presentation.ErrUnknownTab.Error())
	}
}

// Averages returns the per-city averages table for filter.
func (c *Controller) Averages(ctx context.Context, filter models.FilterState) ([]aggregate.CityAverage, error) {
	ds, err := c.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.AverageByCity(ds.Records, filter), nil
}

// ExportData is the tabular content of every tab for one filter.
type ExportData struct {
	Filter      models.FilterState
	Version     string
	Averages    []aggregate.CityAverage
	Monthly     map[string][]aggregate.MonthValue
	EU27        []aggregate.MonthValue
	Correlation map[string]float64
	Seasonal    map[aggregate.CitySeason]aggregate.BoxStats
}

// Export gathers the data behind all four tabs for filter.
func (c *Controller) Export(ctx context.Context, filter models.FilterState) (ExportData, error) {
	ds, err := c.Dataset(ctx)
	if err != nil {
		return ExportData{}, err
	}
	selected := aggregate.FilterRecords(ds.Records, filter)
	seasonal := make(map[aggregate.CitySeason]aggregate.BoxStats)
	for k, values := range aggregate.SeasonalDistribution(selected, filter) {
		if stats, err := aggregate.Quartiles(values); err == nil {
			seasonal[k] = stats
		}
	}
	return ExportData{
		Filter:      filter,
		Version:     ds.Version,
		Averages:    aggregate.AverageByCity(selected, filter),
		Monthly:     aggregate.MonthlyByCity(selected, filter),
		EU27:        aggregate.EU27Aggregate(aggregate.FilterYears(ds.Records, filter.FromYear, filter.ToYear)),
		Correlation: aggregate.CorrelationByCity(selected, filter),
		Seasonal:    seasonal,
	}, nil
}

// Reload drops the memoized dataset and loads the file again.
func (c *Controller) Reload(ctx context.Context) (*dataset.Dataset, error) {
	ds, err := c.source.Reload(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatasetUnavailable, err)
	}
	c.purge()
	return ds, nil
}

// Refresh reloads the dataset only if the file changed on disk.
func (c *Controller) Refresh(ctx context.Context) (bool, error) {
	changed, err := c.source.Refresh(ctx, c.path)
	if err != nil {
		return false, err
	}
	if changed {
		c.purge()
	}
	return changed, nil
}

func (c *Controller) purge() {
	if p, ok := c.cache.(purger); ok {
		p.Purge()
	}
}

func cacheKey(version string, tab presentation.Tab, filter models.FilterState) string {
	return strings.Join([]string{version, string(tab), filter.Key()}, "|")
}
