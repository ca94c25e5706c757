package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marbeck/plansync/internal/billing"
	"github.com/marbeck/plansync/internal/domain"
	"github.com/marbeck/plansync/internal/events"
	"github.com/marbeck/plansync/internal/telemetry"
)

// Reconciler applies canonical billing events to the subscriber store.
// Each call is an independent, stateless unit of work; all correctness under
// concurrency is pushed onto the store's atomic compare-and-update.
type Reconciler struct {
	store     domain.SubscriberStore
	machine   *StateMachine
	provider  billing.Provider
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
}

// NewReconciler creates a Reconciler. provider may be nil to disable the
// customer-email recovery lookup; publisher and metrics may be nil.
func NewReconciler(
	store domain.SubscriberStore,
	machine *StateMachine,
	provider billing.Provider,
	publisher events.Publisher,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *Reconciler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Reconciler{
		store:     store,
		machine:   machine,
		provider:  provider,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Apply reconciles one canonical event against the subscriber record.
//
// Ignored events and no-op transitions return the current snapshot without a
// write. A subject that cannot be located returns ErrSubscriberNotFound; the
// webhook boundary acknowledges it anyway because retrying can never succeed.
func (r *Reconciler) Apply(ctx context.Context, ev domain.Event) (*domain.Subscriber, error) {
	if ev.Type == domain.EventIgnored {
		r.countOutcome(ev, telemetry.OutcomeIgnored)
		return nil, nil
	}

	cur, email, err := r.locate(ctx, ev)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			// email may have been recovered from the provider's customer
			// record when the checkout payload itself carried none.
			if ev.Type == domain.EventCheckoutCompleted && email != "" {
				ev.Email = email
				return r.createFromCheckout(ctx, ev)
			}
			r.countOutcome(ev, telemetry.OutcomeNotFound)
			return nil, err
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "reconcile.locate", "failed to look up subscriber")
	}

	next := r.machine.Transition(*cur, ev)
	if next.StateEqual(*cur) {
		r.countOutcome(ev, telemetry.OutcomeNoop)
		r.logger.Debug().
			Str("event_type", string(ev.Type)).
			Str("user_id", cur.ID.String()).
			Msg("event produced no state change")
		return cur, nil
	}

	var saved *domain.Subscriber
	if cur.CustomerID == "" {
		// Record still keyed by email only; the upsert also commits the
		// customer id mapping the event carries.
		saved, err = r.store.UpsertByEmail(ctx, next)
	} else {
		saved, err = r.store.UpdateByCustomerID(ctx, next, cur.UpdatedAt)
	}
	if err != nil {
		return nil, err
	}

	r.committed(ctx, *cur, *saved, ev)
	return saved, nil
}

// createFromCheckout handles the very first checkout for a subject with no
// stored record. The email-keyed upsert makes concurrent duplicate deliveries
// converge on exactly one row.
func (r *Reconciler) createFromCheckout(ctx context.Context, ev domain.Event) (*domain.Subscriber, error) {
	seed := domain.Subscriber{
		ID:       uuid.New(),
		Email:    ev.Email,
		PlanTier: domain.PlanNone,
		Status:   domain.StatusInactive,
	}

	next := r.machine.Transition(seed, ev)

	saved, err := r.store.UpsertByEmail(ctx, next)
	if err != nil {
		return nil, err
	}

	r.committed(ctx, seed, *saved, ev)
	return saved, nil
}

// locate finds the subject subscriber: customer id first, then email. When
// the event carries a customer id but no email, the provider's customer
// record is consulted once to recover the email before giving up. The
// best-known email is returned alongside so a not-found checkout can still
// create the subscriber under it.
func (r *Reconciler) locate(ctx context.Context, ev domain.Event) (*domain.Subscriber, string, error) {
	email := ev.Email

	if ev.CustomerID != "" {
		sub, err := r.store.FindByCustomerID(ctx, ev.CustomerID)
		if err == nil {
			return sub, email, nil
		}
		if !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, email, err
		}
	}

	if email == "" && ev.CustomerID != "" && r.provider != nil {
		cust, err := r.provider.GetCustomer(ctx, ev.CustomerID)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("customer_id", ev.CustomerID).
				Msg("could not recover customer email from provider")
		} else {
			email = cust.Email
		}
	}

	if email != "" {
		sub, err := r.store.FindByEmail(ctx, email)
		if err == nil {
			return sub, email, nil
		}
		if !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, email, err
		}
	}

	return nil, email, domain.ErrSubscriberNotFound
}

// committed records metrics and publishes the change after a successful write.
func (r *Reconciler) committed(ctx context.Context, prev, saved domain.Subscriber, ev domain.Event) {
	r.countOutcome(ev, telemetry.OutcomeApplied)
	if r.metrics != nil && prev.PlanTier != saved.PlanTier {
		r.metrics.PlanChanges.WithLabelValues(string(prev.PlanTier), string(saved.PlanTier)).Inc()
	}

	r.logger.Info().
		Str("event_type", string(ev.Type)).
		Str("user_id", saved.ID.String()).
		Str("plan_tier", string(saved.PlanTier)).
		Str("status", string(saved.Status)).
		Bool("cancel_at_period_end", saved.CancelAtPeriodEnd).
		Msg("subscriber reconciled")

	change := events.Change{
		UserID:         saved.ID.String(),
		Email:          saved.Email,
		CustomerID:     saved.CustomerID,
		SubscriptionID: saved.SubscriptionID,
		EventType:      string(ev.Type),
		PreviousTier:   string(prev.PlanTier),
		PlanTier:       string(saved.PlanTier),
		PreviousStatus: string(prev.Status),
		Status:         string(saved.Status),
		OccurredAt:     ev.OccurredAt,
	}
	if err := r.publisher.SubscriptionChanged(ctx, change); err != nil {
		r.logger.Warn().Err(err).Msg("failed to publish subscription change")
	}
}

func (r *Reconciler) countOutcome(ev domain.Event, outcome string) {
	if r.metrics != nil {
		r.metrics.ReconcileOutcome.WithLabelValues(string(ev.Type), outcome).Inc()
	}
}
