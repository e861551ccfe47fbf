// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WizardTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_step_transitions_total",
			Help: "Total number of wizard step transitions",
		},
		[]string{"direction"},
	)

	WizardValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_validation_failures_total",
			Help: "Total number of blocked forward transitions by step",
		},
		[]string{"step"},
	)

	StepCacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_step_cache_writes_total",
			Help: "Total number of backend step-cache writes",
		},
		[]string{"status"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_submissions_total",
			Help: "Total number of final application submissions",
		},
		[]string{"status"},
	)

	PaymentRoundTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_payment_roundtrips_total",
			Help: "Total number of payment gateway round trips by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "wizard_reconcile_duration_seconds",
			Help: "Duration of initial mount reconciliation in seconds",
		},
	)
)
