package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for identify requests.
const (
	OutcomeCreated  = "created"
	OutcomeLinked   = "linked"
	OutcomeMerged   = "merged"
	OutcomeExisting = "existing"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for identity reconciliation
type Metrics struct {
	IdentifyRequests *prometheus.CounterVec
	ContactsCreated  *prometheus.CounterVec
	ClustersMerged   prometheus.Counter
	DanglingLinks    prometheus.Counter
	ResolveLatency   prometheus.Histogram
}

// New creates the metrics and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentifyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_identify_requests_total",
			Help: "Total number of identify requests by outcome",
		}, []string{"outcome"}),
		ContactsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_contacts_created_total",
			Help: "Total number of contacts created by link precedence",
		}, []string{"precedence"}),
		ClustersMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_clusters_merged_total",
			Help: "Total number of primaries demoted into an older cluster",
		}),
		DanglingLinks: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_dangling_links_total",
			Help: "Total number of secondary links that did not resolve to a primary",
		}),
		ResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_resolve_latency_seconds",
			Help:    "Latency of identity resolution in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// The helpers below are nil-safe so services can run without metrics.

func (m *Metrics) ObserveIdentify(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.IdentifyRequests.WithLabelValues(outcome).Inc()
	m.ResolveLatency.Observe(time.Since(started).Seconds())
}

func (m *Metrics) IncrementContactsCreated(precedence string) {
	if m == nil {
		return
	}
	m.ContactsCreated.WithLabelValues(precedence).Inc()
}

func (m *Metrics) AddClustersMerged(n int) {
	if m == nil {
		return
	}
	m.ClustersMerged.Add(float64(n))
}

func (m *Metrics) IncrementDanglingLinks() {
	if m == nil {
		return
	}
	m.DanglingLinks.Inc()
}
