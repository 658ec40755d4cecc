package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics records outcomes of the engine services.
type FulfillmentMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	units    *prometheus.CounterVec
}

// NewFulfillmentMetrics registers the engine metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_operation_duration_seconds",
		Help:    "Duration of fulfillment engine operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_operation_success",
		Help: "Successful fulfillment engine operations.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_operation_failure",
		Help: "Failed fulfillment engine operations.",
	}, []string{"operation"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_units_moved_total",
		Help: "Units moved through the stock ledger by direction.",
	}, []string{"direction"})
	reg.MustRegister(duration, success, failure, units)
	return &FulfillmentMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		units:    units,
	}
}

// ObserveDuration records the duration for the named operation.
func (m *FulfillmentMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named operation.
func (m *FulfillmentMetrics) IncSuccess(operation string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncFailure increments the failure counter for the named operation.
func (m *FulfillmentMetrics) IncFailure(operation string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(operation)).Inc()
}

// AddUnits counts units moved in or out of the ledger.
func (m *FulfillmentMetrics) AddUnits(direction string, n int) {
	if m == nil || m.units == nil || n <= 0 {
		return
	}
	m.units.WithLabelValues(normalizeLabel(direction)).Add(float64(n))
}

func normalizeLabel(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
