package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PromExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_external_calls_total",
			Help: "External collaborator calls by outcome",
		},
		[]string{"collaborator", "operation", "outcome"},
	)
	PromExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "coordinator_external_call_duration_seconds",
			Help: "Duration of external collaborator calls including retries",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
			},
		},
		[]string{"collaborator", "operation"},
	)
)

func observe(collaborator, op, outcome string, d time.Duration) {
	PromExternalCallsTotal.WithLabelValues(collaborator, op, outcome).Inc()
	PromExternalCallDuration.WithLabelValues(collaborator, op).Observe(d.Seconds())
}
