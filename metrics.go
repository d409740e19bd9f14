package bunstore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/kartikbazzad/bunbase/bunstore/internal/errors"
)

// metrics holds the collectors of one Store.
type metrics struct {
	// operations counts completed operations by name and error category.
	operations *prometheus.CounterVec
	// duration is the time from submission to completion.
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bunstore_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bunstore_operation_duration_seconds",
				Help:    "Store operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		m.operations = register(reg, m.operations)
		m.duration = register(reg, m.duration)
	}
	return m
}

// register adds c to reg, reusing the collector already registered under the
// same name when two stores share a registerer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) observe(operation string, start time.Time, err error) {
	m.operations.WithLabelValues(operation, string(apperrors.Classify(err))).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
