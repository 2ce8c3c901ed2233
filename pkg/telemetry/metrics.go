package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for core hierarchy and ledger operations.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationRejected *prometheus.CounterVec
	membersMoved      *prometheus.CounterVec
}

// NewMetrics registers and returns Prometheus metrics on reg.
// A nil registerer falls back to the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	operationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "congregate_operation_duration_seconds",
		Help:    "Core operation latency by operation and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	operationRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "congregate_operation_rejected_total",
		Help: "Operations rejected with a typed error, by operation and error kind.",
	}, []string{"operation", "kind"})

	membersMoved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "congregate_members_moved_total",
		Help: "Members moved by bulk operations, by axis and direction.",
	}, []string{"axis", "direction"})

	reg.MustRegister(operationDuration, operationRejected, membersMoved)

	return &Metrics{
		operationDuration: operationDuration,
		operationRejected: operationRejected,
		membersMoved:      membersMoved,
	}
}

// ObserveOperation records the latency of one core operation.
// kind is the error kind for rejected operations and empty on success.
func (m *Metrics) ObserveOperation(operation, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	opLabel := sanitizeLabel(operation)
	outcome := "success"
	if kind != "" {
		outcome = "rejected"
		m.operationRejected.WithLabelValues(opLabel, kind).Inc()
	}
	m.operationDuration.WithLabelValues(opLabel, outcome).Observe(duration.Seconds())
}

// ObserveMembersMoved counts members moved in or out of an axis.
func (m *Metrics) ObserveMembersMoved(axis, direction string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.membersMoved.WithLabelValues(sanitizeLabel(axis), sanitizeLabel(direction)).Add(float64(count))
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
