package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/no2-dashboard/internal/aggregate"
	"github.com/kjstillabower/no2-dashboard/internal/export"
	"github.com/kjstillabower/no2-dashboard/internal/lifecycle"
	"github.com/kjstillabower/no2-dashboard/internal/models"
	"github.com/kjstillabower/no2-dashboard/internal/observability"
	"github.com/kjstillabower/no2-dashboard/internal/presentation"
	"github.com/kjstillabower/no2-dashboard/internal/traffic"
	"github.com/kjstillabower/no2-dashboard/internal/validation"
	"github.com/kjstillabower/no2-dashboard/internal/view"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	Window               time.Duration
	RateLimitRPS         int
	OverloadThresholdPct int
	DegradedErrorPct     int
	StartTime            time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	views        *view.Controller
	healthConfig *HealthConfig
	logger       *zap.Logger
	limits       validation.Limits
	adminToken   string
	warm         func(ctx context.Context) error

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. An empty adminToken leaves POST /admin/reload open.
func NewHandler(
	views *view.Controller,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	limits validation.Limits,
	adminToken string,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		views:        views,
		healthConfig: healthConfig,
		logger:       logger,
		limits:       limits,
		adminToken:   adminToken,
	}
}

// SetWarmer registers a function run after a successful reload.
func (h *Handler) SetWarmer(warm func(ctx context.Context) error) {
	h.warm = warm
}

// GetOptions handles GET /api/options.
func (h *Handler) GetOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.views.Options(r.Context())
	h.record(err)
	if err != nil {
		writeViewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// GetView handles GET /api/views/{tab}.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	tab, err := validation.ValidateTab(mux.Vars(r)["tab"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_TAB", err.Error())
		return
	}
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	raw, err := h.views.RenderJSON(r.Context(), string(tab), filter)
	h.record(err)
	if err != nil {
		writeViewError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// GetAverages handles GET /api/averages.
func (h *Handler) GetAverages(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	averages, err := h.views.Averages(r.Context(), filter)
	h.record(err)
	if err != nil {
		writeViewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Filter   models.FilterState      `json:"filter"`
		Averages []aggregate.CityAverage `json:"averages"`
	}{filter, averages})
}

// GetExport handles GET /api/export.xlsx.
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	data, err := h.views.Export(r.Context(), filter)
	if err != nil {
		h.record(err)
		writeViewError(w, r, err)
		return
	}
	raw, err := export.Workbook(data)
	h.record(err)
	if err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Error("workbook export failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "EXPORT_FAILED", "Unable to build workbook")
		return
	}
	observability.ExportsTotal.Inc()
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="no2-%s.xlsx"`, data.Version))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// PostReload handles POST /admin/reload: drop the memoized dataset and load it again.
func (h *Handler) PostReload(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required")
		return
	}
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	ds, err := h.views.Reload(r.Context())
	if err != nil {
		logger.Warn("dataset reload failed", zap.Error(err))
		writeViewError(w, r, err)
		return
	}
	lifecycle.SetReady(true)
	if h.warm != nil {
		if err := h.warm(r.Context()); err != nil {
			logger.Warn("cache warm after reload failed", zap.Error(err))
		}
	}
	logger.Info("dataset reloaded", zap.String("version", ds.Version), zap.Int("records", len(ds.Records)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"version": ds.Version,
		"records": len(ds.Records),
		"cities":  len(ds.Cities),
		"skipped": ds.Skipped,
	})
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.adminToken == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) == 1
}

// parseFilter reads the shared filter from the query string. Writes the error
// response and returns false on failure.
func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (models.FilterState, bool) {
	ds, err := h.views.Dataset(r.Context())
	if err != nil {
		h.record(err)
		writeViewError(w, r, err)
		return models.FilterState{}, false
	}
	filter, err := validation.ParseFilter(r.URL.Query(), view.DefaultFilter(ds), h.limits)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return models.FilterState{}, false
	}
	return filter, true
}

// record feeds the sliding-window tracker used by /health.
func (h *Handler) record(err error) {
	if err != nil {
		traffic.Record(traffic.Failure)
		return
	}
	traffic.Record(traffic.Success)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	version    string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"dataset": "healthy"}
	if result.reason == "dataset_unavailable" || result.reason == "dataset_not_loaded" {
		checks["dataset"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":         result.status,
		"service":        "no2-dashboard",
		"datasetVersion": result.version,
		"checks":         checks,
		"inFlight":       InFlightCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(time.Since(h.healthConfig.StartTime).Seconds())
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > dataset unavailable > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{status: "shutting-down", statusCode: http.StatusServiceUnavailable, reason: "signal"}
	}
	ds, err := h.views.Dataset(ctx)
	switch {
	case err != nil && !lifecycle.IsReady():
		return healthResult{status: "starting", statusCode: http.StatusServiceUnavailable, reason: "dataset_not_loaded"}
	case err != nil:
		return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "dataset_unavailable"}
	}
	lifecycle.SetReady(true)
	res := healthResult{status: "healthy", statusCode: http.StatusOK, version: ds.Version}
	if h.healthConfig == nil || h.healthConfig.Window <= 0 {
		return res
	}

	cfg := h.healthConfig
	if cfg.RateLimitRPS > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.Window.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(cfg.Window)) > threshold {
			res.status, res.statusCode, res.reason = "overloaded", http.StatusServiceUnavailable, "overload_threshold"
			return res
		}
	}
	if cfg.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(cfg.Window)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			res.status, res.statusCode, res.reason = "degraded", http.StatusServiceUnavailable, "error_rate_breach"
			return res
		}
	}
	return res
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeViewError maps controller errors to responses. The underlying cause is
// logged at DEBUG; load failures are not echoed to clients.
func writeViewError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LoggerFromContext(r.Context(), nil).Debug("view error", zap.Error(err))
	switch {
	case errors.Is(err, presentation.ErrUnknownTab), errors.Is(err, validation.ErrUnknownTab):
		writeError(w, r, http.StatusNotFound, "UNKNOWN_TAB", err.Error())
	case errors.Is(err, view.ErrDatasetUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "DATASET_UNAVAILABLE", "NO₂ dataset could not be loaded")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "TIMEOUT", "Request timed out")
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to render view")
	}
}
