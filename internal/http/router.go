package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/no2-dashboard/internal/observability"
)

// RouterConfig holds middleware settings for NewRouter. A nil Limiter disables
// rate limiting; zero RequestTimeout disables the /api deadline.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	// TestingMode exposes GET /test and POST /test/{action}.
	TestingMode bool
}

// NewRouter wires the dashboard routes with correlation IDs and metrics on every
// route. Rate limiting and the request deadline apply to /api only.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/options", h.GetOptions).Methods(http.MethodGet)
	api.HandleFunc("/views/{tab}", h.GetView).Methods(http.MethodGet)
	api.HandleFunc("/averages", h.GetAverages).Methods(http.MethodGet)
	api.HandleFunc("/export.xlsx", h.GetExport).Methods(http.MethodGet)

	router.HandleFunc("/", h.GetDashboard).Methods(http.MethodGet)
	router.HandleFunc("/admin/reload", h.PostReload).Methods(http.MethodPost)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods(http.MethodPost)
	}
	return router
}
