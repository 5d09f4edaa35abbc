// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Number of payments registered with the processor.",
	})

	PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment state transitions by resulting status.",
	}, []string{"status"})

	CASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_cas_conflicts_total",
		Help: "Compare-and-swap attempts that lost the race to a concurrent writer.",
	})

	ProcessorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processor_request_duration_seconds",
		Help:    "Latency of outbound payment processor calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
