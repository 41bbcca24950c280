package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/no2-dashboard/internal/lifecycle"
	"github.com/kjstillabower/no2-dashboard/internal/traffic"
)

func (h *Handler) healthWindow() time.Duration {
	if h.healthConfig != nil && h.healthConfig.Window > 0 {
		return h.healthConfig.Window
	}
	return 60 * time.Second
}

// GetTestStatus handles GET /test. Returns the traffic counts behind /health.
// Only routed when testing mode is enabled.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := h.healthWindow()
	counts := traffic.Snapshot(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["overload_threshold_pct"] = h.healthConfig.OverloadThresholdPct
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests_in_window":  counts.Total(),
		"denied_requests_in_window": counts.Denied,
		"errors_in_window":          counts.Failures,
		"window_length":             window.String(),
		"shutting_down":             lifecycle.IsShuttingDown(),
		"ready":                     lifecycle.IsReady(),
		"config":                    cfg,
	})
}

// PostTestAction handles POST /test/{action} for error, reset, shutdown and clear.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	var msg string
	switch action {
	case "error":
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
			body.Count = 10
		}
		for i := 0; i < body.Count; i++ {
			traffic.Record(traffic.Failure)
		}
		msg = "Recorded " + strconv.Itoa(body.Count) + " failures"
	case "reset":
		traffic.Reset()
		msg = "Traffic counters cleared"
	case "shutdown":
		lifecycle.SetShuttingDown(true)
		msg = "Shutting-down flag set"
	case "clear":
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
		msg = "Traffic counters and shutting-down flag cleared"
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
		return
	}
	result := h.computeHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  action,
		"message": msg,
		"status":  result.status,
	})
}
