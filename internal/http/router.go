package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-node/internal/observability"
)

// NewRouter wires the admin API. limiter and requestTimeout apply to the
// /nodes and /notices routes only; nil limiter disables rate limiting.
func NewRouter(h *Handler, limiter *rate.Limiter, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(RecoveryMiddleware(logger))
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/nodes", h.GetNodes).Methods("GET")
	api.HandleFunc("/nodes/{address}", h.GetNode).Methods("GET")
	api.HandleFunc("/nodes/{address}/commands/{command}", h.PostCommand).Methods("POST")
	api.HandleFunc("/notices", h.GetNotices).Methods("GET")
	return router
}
