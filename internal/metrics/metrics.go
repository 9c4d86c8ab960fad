package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Identify outcomes used as the outcome label.
const (
	OutcomeOK           = "ok"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
	OutcomeInconsistent = "inconsistent"
	OutcomeLockTimeout  = "lock_timeout"
)

// Metrics holds all Prometheus metrics for the resolver
type Metrics struct {
	IdentifyRequests  *prometheus.CounterVec
	IdentifyDuration  prometheus.Histogram
	ContactsCreated   *prometheus.CounterVec
	ClusterMerges     prometheus.Counter
	ClusterRepairs    prometheus.Counter
	ResolutionRetries prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IdentifyRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_identify_requests_total",
			Help: "Identify calls by outcome",
		}, []string{"outcome"}),
		IdentifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_identify_duration_seconds",
			Help:    "Wall time of identify calls, lock wait included",
			Buckets: prometheus.DefBuckets,
		}),
		ContactsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_contacts_created_total",
			Help: "Contacts created by link precedence",
		}, []string{"precedence"}),
		ClusterMerges: f.NewCounter(prometheus.CounterOpts{
			Name: "identity_cluster_merges_total",
			Help: "Former primaries demoted while merging clusters",
		}),
		ClusterRepairs: f.NewCounter(prometheus.CounterOpts{
			Name: "identity_cluster_repairs_total",
			Help: "Clusters without a primary that were repaired by promotion",
		}),
		ResolutionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "identity_resolution_retries_total",
			Help: "Resolutions re-run after a store conflict",
		}),
	}
}

// ObserveIdentify records one identify call.
func (m *Metrics) ObserveIdentify(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IdentifyRequests.WithLabelValues(outcome).Inc()
	m.IdentifyDuration.Observe(elapsed.Seconds())
}

// IncContactsCreated counts a created contact.
func (m *Metrics) IncContactsCreated(precedence string) {
	if m == nil {
		return
	}
	m.ContactsCreated.WithLabelValues(precedence).Inc()
}

// AddMerges counts demoted former primaries.
func (m *Metrics) AddMerges(n int) {
	if m == nil {
		return
	}
	m.ClusterMerges.Add(float64(n))
}

// IncRepairs counts a self-heal promotion.
func (m *Metrics) IncRepairs() {
	if m == nil {
		return
	}
	m.ClusterRepairs.Inc()
}

// IncRetries counts a resolution retry.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.ResolutionRetries.Inc()
}
