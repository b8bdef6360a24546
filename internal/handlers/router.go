package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the identify, health and metrics endpoints. gatherer may
// be nil, in which case /metrics is not served.
func NewRouter(identify *IdentifyHandler, health *HealthHandler, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID, AccessLog(logger))

	router.HandleFunc("/identify", identify.Handle).Methods(http.MethodPost)
	router.HandleFunc("/health", health.HandleLiveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", health.HandleReadiness).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}
