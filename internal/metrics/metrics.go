package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	IdentifyOutcomes *prometheus.CounterVec
	IdentifyLatency  prometheus.Histogram
	ContactsDemoted  prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentifyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_identify_outcomes_total",
			Help: "Identify calls by outcome (created, attached, unchanged, merged, failed)",
		}, []string{"outcome"}),

		IdentifyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_identify_duration_seconds",
			Help:    "Duration of a full identify call including the store transaction",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		ContactsDemoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_contacts_demoted_total",
			Help: "Primary contacts demoted to secondary during merges",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "status"}),

		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveIdentify records one identify call.
func (m *Metrics) ObserveIdentify(outcome string, demoted int, d time.Duration) {
	if m == nil {
		return
	}
	m.IdentifyOutcomes.WithLabelValues(outcome).Inc()
	m.IdentifyLatency.Observe(d.Seconds())
	if demoted > 0 {
		m.ContactsDemoted.Add(float64(demoted))
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}
