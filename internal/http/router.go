package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Limiter throttles /api/v1 routes; nil disables inbound limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter wires the dashboard API. /health and /metrics bypass the inbound
// limiter and the request timeout.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/countries", h.GetCountries).Methods(http.MethodGet)
	api.HandleFunc("/parameters", h.GetParameters).Methods(http.MethodGet)
	api.HandleFunc("/locations", h.GetLocations).Methods(http.MethodGet)
	api.HandleFunc("/cities", h.GetCities).Methods(http.MethodGet)
	api.HandleFunc("/locations/{id}", h.GetLocation).Methods(http.MethodGet)
	api.HandleFunc("/locations/{id}/measurements", h.GetMeasurements).Methods(http.MethodGet)
	api.HandleFunc("/locations/{id}/aggregates/{period}", h.GetAggregates).Methods(http.MethodGet)
	api.HandleFunc("/locations/{id}/series", h.GetSeries).Methods(http.MethodGet)
	api.HandleFunc("/latest", h.GetLatest).Methods(http.MethodGet)
	api.HandleFunc("/compare", h.GetCompare).Methods(http.MethodGet)
	api.HandleFunc("/map", h.GetMap).Methods(http.MethodGet)
	return router
}
