package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/no2-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Dataset loads by outcome. Watch for: error status after a file drop (schema drift).
	DatasetLoadsTotal *prometheus.CounterVec

	// Time spent parsing the input file.
	DatasetLoadDuration prometheus.Histogram

	// Rows in the currently loaded dataset.
	DatasetRecords prometheus.Gauge

	// Rows skipped on the last load (missing value, bad date, empty city).
	DatasetSkippedRows prometheus.Gauge

	// View renders per tab and outcome (ok, empty, error).
	ViewRendersTotal *prometheus.CounterVec

	// Recompute latency per tab. Cache hits are not observed here.
	ViewRenderDuration *prometheus.HistogramVec

	// Render cache hits. Hit rate = hits / viewRendersTotal.
	CacheHitsTotal *prometheus.CounterVec

	// Render cache failures by operation (get, set).
	CacheErrorsTotal *prometheus.CounterVec

	// Renders that waited on an identical in-flight render instead of computing.
	// Watch for: sustained growth (stampede on a hot filter after reload).
	RenderCoalescedTotal prometheus.Counter

	// Cache warm runs (startup and scheduled).
	CacheWarmingTotal prometheus.Counter

	// Warm runs where at least one tab failed.
	CacheWarmingErrorsTotal prometheus.Counter

	// Render cache circuit breaker state (0=closed, 1=open, 2=half_open).
	CacheBreakerState prometheus.Gauge

	// Breaker transitions. Watch for: flapping between open and half_open.
	CacheBreakerTransitionsTotal *prometheus.CounterVec

	// Workbook exports.
	ExportsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	DatasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetLoadsTotal",
			Help: "Total number of dataset loads by status",
		},
		[]string{"status"},
	)
	DatasetLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datasetLoadDurationSeconds",
			Help:    "Dataset load latency in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5},
		},
	)
	DatasetRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetRecords",
			Help: "Number of measurements in the loaded dataset",
		},
	)
	DatasetSkippedRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetSkippedRows",
			Help: "Rows skipped during the last dataset load",
		},
	)
	ViewRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewRendersTotal",
			Help: "Total number of view renders by tab and status",
		},
		[]string{"tab", "status"},
	)
	ViewRenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewRenderDurationSeconds",
			Help:    "View recompute latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"tab"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of render cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Total number of render cache errors by operation",
		},
		[]string{"operation"},
	)
	RenderCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "renderCoalescedTotal",
			Help: "Total number of renders served by a concurrent identical render",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of render cache warm runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Total number of render cache warm runs with failures",
		},
	)
	CacheBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheBreakerState",
			Help: "Render cache circuit breaker state: 0=closed, 1=open, 2=half_open",
		},
	)
	CacheBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheBreakerTransitionsTotal",
			Help: "Total number of render cache circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)
	ExportsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exportsTotal",
			Help: "Total number of workbook exports",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		DatasetLoadsTotal, DatasetLoadDuration, DatasetRecords, DatasetSkippedRows,
		ViewRendersTotal, ViewRenderDuration,
		CacheHitsTotal, CacheErrorsTotal, RenderCoalescedTotal, CacheWarmingTotal, CacheWarmingErrorsTotal,
		CacheBreakerState, CacheBreakerTransitionsTotal,
		ExportsTotal,
		RateLimitDeniedTotal,
	)
}

// RecordDatasetLoad records the outcome of one dataset load.
func RecordDatasetLoad(err error, duration time.Duration, records, skipped int) {
	DatasetLoadDuration.Observe(duration.Seconds())
	if err != nil {
		DatasetLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	DatasetLoadsTotal.WithLabelValues("success").Inc()
	DatasetRecords.Set(float64(records))
	DatasetSkippedRows.Set(float64(skipped))
}

// RecordViewRender records a recompute of one tab. status is ok, empty or error.
func RecordViewRender(tab, status string, duration time.Duration) {
	ViewRendersTotal.WithLabelValues(tab, status).Inc()
	if status != "error" {
		ViewRenderDuration.WithLabelValues(tab).Observe(duration.Seconds())
	}
}

// RecordBreakerTransition counts a render cache breaker transition and updates
// the state gauge. state is the numeric value of the new state.
func RecordBreakerTransition(from, to string, state int) {
	CacheBreakerTransitionsTotal.WithLabelValues(from, to).Inc()
	CacheBreakerState.Set(float64(state))
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.HealthWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
