package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records ledger operations. A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	replays    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bluebank",
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bluebank",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Latency of ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bluebank",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from a stored idempotent result.",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.replays)
	return m
}

// Observe records one finished operation.
func (m *Metrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) Replayed() {
	if m == nil {
		return
	}
	m.replays.Inc()
}
