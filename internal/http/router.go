package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sensorsp/widget-engine/internal/observability"
	"github.com/sensorsp/widget-engine/internal/traffic"
)

// RouterConfig holds the middleware settings of the host adapter.
type RouterConfig struct {
	RequestTimeout time.Duration
	// RateLimitRPS of zero disables rate limiting on widget routes.
	RateLimitRPS   int
	RateLimitBurst int
	Tracker        *traffic.Tracker
	InFlight       *InFlightTracker
}

// NewRouter wires the host adapter routes. Widget routes are rate limited and
// time bounded; /health and /metrics are not.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	if cfg.InFlight == nil {
		cfg.InFlight = &InFlightTracker{}
	}
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(InFlightMiddleware(cfg.InFlight))

	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	widgets := r.NewRoute().Subrouter()
	widgets.Use(RateLimitMiddleware(limiter, cfg.Tracker))
	if cfg.RequestTimeout > 0 {
		widgets.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	widgets.HandleFunc("/widgets/update", h.PostUpdateAll).Methods(http.MethodPost)
	widgets.HandleFunc("/widgets/{id}/events", h.PostEvent).Methods(http.MethodPost)
	widgets.HandleFunc("/widgets/{id}/config", h.PutConfig).Methods(http.MethodPut)
	widgets.HandleFunc("/widgets/{id}/snapshot", h.GetSnapshot).Methods(http.MethodGet)
	widgets.HandleFunc("/device/power", h.PutPower).Methods(http.MethodPut)
	widgets.HandleFunc("/interval", h.GetInterval).Methods(http.MethodGet)
	return r
}
