package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/no2-dashboard/internal/cache"
	"github.com/kjstillabower/no2-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/no2-dashboard/internal/config"
	"github.com/kjstillabower/no2-dashboard/internal/dataset"
	httphandler "github.com/kjstillabower/no2-dashboard/internal/http"
	"github.com/kjstillabower/no2-dashboard/internal/lifecycle"
	"github.com/kjstillabower/no2-dashboard/internal/observability"
	"github.com/kjstillabower/no2-dashboard/internal/presentation"
	"github.com/kjstillabower/no2-dashboard/internal/scheduler"
	"github.com/kjstillabower/no2-dashboard/internal/validation"
	"github.com/kjstillabower/no2-dashboard/internal/view"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var renderCache cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		breaker := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordBreakerTransition(from.String(), to.String(), int(to))
				logger.Warn("render cache breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		renderCache = cache.NewGuardedCache(mc, breaker)
		logger.Info("cache backend: memcached",
			zap.String("addrs", cfg.MemcachedAddrs),
			zap.Int("breaker_failures", cfg.BreakerFailures),
			zap.Duration("breaker_cooldown", cfg.BreakerCooldown))
	default:
		renderCache = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	store := dataset.NewStore(logger)
	views := view.NewController(store, cfg.DataPath, renderCache, cfg.CacheTTL, logger)

	if cfg.PreloadDataset {
		loadCtx, loadCancel := context.WithTimeout(context.Background(), cfg.RefreshTimeout)
		ds, err := views.Dataset(loadCtx)
		loadCancel()
		if err != nil {
			var loadErr *dataset.LoadError
			if errors.As(err, &loadErr) {
				logger.Fatal("dataset", zap.String("path", cfg.DataPath), zap.Error(err))
			}
			logger.Warn("dataset preload failed; will retry on first request", zap.Error(err))
		} else {
			lifecycle.SetReady(true)
			logger.Info("dataset loaded",
				zap.String("path", cfg.DataPath),
				zap.String("version", ds.Version),
				zap.Int("records", len(ds.Records)),
				zap.Int("cities", len(ds.Cities)),
				zap.Int("skipped", ds.Skipped))
		}
	}

	tabs := make([]string, len(presentation.Tabs))
	for i, t := range presentation.Tabs {
		tabs[i] = string(t)
	}
	warmer := cache.NewCacheWarmer(views, logger)
	warm := func(ctx context.Context) error {
		ds, err := views.Dataset(ctx)
		if err != nil {
			return err
		}
		return warmer.Warm(ctx, tabs, view.DefaultFilter(ds))
	}
	if cfg.WarmOnStartup && lifecycle.IsReady() {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warm(warmCtx); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}

	sched := scheduler.New(cfg.RefreshTimeout, logger)
	if cfg.RefreshInterval > 0 {
		if err := sched.Schedule("dataset-refresh", cfg.RefreshInterval, scheduler.RefreshAndWarm(views, warm)); err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
	}
	sched.Start()

	healthConfig := &httphandler.HealthConfig{
		Window:               cfg.HealthWindow,
		RateLimitRPS:         cfg.RateLimitRPS,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		StartTime:            time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	limits := validation.Limits{MaxCityLen: cfg.MaxCityLen, MaxCities: cfg.MaxCities}
	handler := httphandler.NewHandler(views, healthConfig, logger, limits, cfg.AdminToken)
	handler.SetWarmer(warm)
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set; POST /admin/reload is unauthenticated")
	}

	observability.RegisterRateLimitGauges(cfg.HealthWindow)

	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("data", cfg.DataPath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
