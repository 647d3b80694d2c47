package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts wallet operations by type and result and tracks how
// long each one takes end to end (validation plus the store mutation).
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_operations_total",
			Help: "Wallet operations processed, by operation type and result.",
		}, []string{"operation", "result"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_operation_duration_seconds",
			Help:    "Duration of wallet operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) ObserveOperation(operation, result string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// NoopMetrics is used where metrics are not wired, e.g. in tests.
type NoopMetrics struct{}

func (NoopMetrics) ObserveOperation(string, string, time.Duration) {}

// Recorder is what the usecase layer depends on.
type Recorder interface {
	ObserveOperation(operation, result string, elapsed time.Duration)
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
