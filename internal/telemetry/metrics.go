// Package telemetry holds Prometheus metrics for business-level
// observability of the reconciliation pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile outcome label values.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeIgnored  = "ignored"
	OutcomeNotFound = "subject_not_found"
)

// Metrics holds Prometheus collectors for the subscription sync pipeline.
type Metrics struct {
	// Webhook pipeline
	WebhookReceived *prometheus.CounterVec
	WebhookFailed   *prometheus.CounterVec
	WebhookLatency  *prometheus.HistogramVec

	// Reconciliation outcomes, by canonical event type
	ReconcileOutcome *prometheus.CounterVec

	// Entitlement movement
	PlanChanges *prometheus.CounterVec

	// User-initiated cancellations
	CancellationsRequested prometheus.Counter
	CancellationsFailed    *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "plansync"
	}

	factory := promauto.With(reg)

	return &Metrics{
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_received_total",
				Help:      "Total webhook deliveries received, by provider event type",
			},
			[]string{"event_type"},
		),
		WebhookFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_failed_total",
				Help:      "Total webhook deliveries that failed, by event type and reason",
			},
			[]string{"event_type", "reason"},
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"event_type"},
		),
		ReconcileOutcome: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_outcome_total",
				Help:      "Reconciliation outcomes, by canonical event type",
			},
			[]string{"event_type", "outcome"},
		),
		PlanChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_changes_total",
				Help:      "Committed plan tier changes",
			},
			[]string{"from", "to"},
		),
		CancellationsRequested: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancellations_requested_total",
				Help:      "User-initiated period-end cancellations accepted",
			},
		),
		CancellationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancellations_failed_total",
				Help:      "User-initiated cancellations rejected or failed, by reason",
			},
			[]string{"reason"},
		),
	}
}
