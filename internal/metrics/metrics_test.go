package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveIdentify(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIdentify("merged", 2, 3*time.Millisecond)
	m.ObserveIdentify("created", 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentifyOutcomes.WithLabelValues("merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentifyOutcomes.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ContactsDemoted))
}

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("/identify", "POST", "200", time.Millisecond)
	m.ObserveRequest("/identify", "POST", "200", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/identify", "POST", "200")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIdentify("created", 0, time.Millisecond)
		m.ObserveRequest("/health", "GET", "200", time.Millisecond)
	})
}
