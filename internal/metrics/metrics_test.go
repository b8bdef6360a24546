package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIdentify(OutcomeMerged, time.Now())
	m.IncrementContactsCreated("secondary")
	m.AddClustersMerged(2)
	m.IncrementDanglingLinks()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentifyRequests.WithLabelValues(OutcomeMerged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContactsCreated.WithLabelValues("secondary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClustersMerged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DanglingLinks))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ResolveLatency))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIdentify(OutcomeError, time.Now())
		m.IncrementContactsCreated("primary")
		m.AddClustersMerged(1)
		m.IncrementDanglingLinks()
	})
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration on one registry")
}
