package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"identityrecon/internal/metrics"
)

// Store is what the read-only endpoints need from the contact store.
type Store interface {
	ContactReader
	Pinger
}

// RouterConfig wires the HTTP surface. Metrics and Gatherer are optional;
// /metrics is only mounted when Gatherer is set.
type RouterConfig struct {
	Identifier Identifier
	Store      Store
	Log        zerolog.Logger
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
}

// NewRouter builds the service's routes.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(WithRequestID, RequestLogger(cfg.Log, cfg.Metrics))

	identify := NewIdentifyHandler(cfg.Identifier, cfg.Log)
	contacts := NewContactsHandler(cfg.Store, cfg.Log)

	router.HandleFunc("/identify", identify.Handle).Methods(http.MethodPost)
	router.HandleFunc("/contacts/{id}", contacts.Get).Methods(http.MethodGet)
	router.HandleFunc("/health", Health(cfg.Store, cfg.Log)).Methods(http.MethodGet)

	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}
