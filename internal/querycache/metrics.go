package querycache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "reader_querycache"

// Metrics holds the query cache Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Requests      *prometheus.CounterVec
	Loads         *prometheus.CounterVec
	DedupJoins    *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	Entries       *prometheus.GaugeVec
	LoadDuration  *prometheus.HistogramVec
}

// NewMetrics registers the cache collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Cache reads by kind and result (hit, stale, miss)",
		}, []string{"kind", "result"}),
		Loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "loads_total",
			Help:      "Backend loads by kind and outcome (success, error)",
		}, []string{"kind", "outcome"}),
		DedupJoins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dedup_joins_total",
			Help:      "Callers that shared an in-flight load instead of starting one",
		}, []string{"kind"}),
		Invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalidations_total",
			Help:      "Entries marked invalid after a write",
		}, []string{"kind"}),
		Entries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "entries",
			Help:      "Entries currently held",
		}, []string{"kind"}),
		LoadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "load_duration_seconds",
			Help:      "Time spent in backend loaders",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"kind"}),
	}
}

const (
	resultHit   = "hit"
	resultStale = "stale"
	resultMiss  = "miss"
)

func (m *Metrics) request(kind Kind, result string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) load(kind Kind, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Loads.WithLabelValues(string(kind), outcome).Inc()
	m.LoadDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) dedup(kind Kind) {
	if m == nil {
		return
	}
	m.DedupJoins.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) invalidated(kind Kind) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) entries(kind Kind, delta float64) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(string(kind)).Add(delta)
}
