package database

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the store's Prometheus collectors.
type Metrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	decodeFailures *prometheus.CounterVec
}

// NewMetrics creates the store collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termchat_store_operations_total",
				Help: "Store operations by name and result",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termchat_store_operation_duration_seconds",
				Help:    "Store operation latency",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"op"},
		),
		decodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termchat_store_decode_failures_total",
				Help: "Column values that could not be decoded and were replaced by an empty value",
			},
			[]string{"column"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.decodeFailures)
	}
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordDecodeFailure(column string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(column).Inc()
}
