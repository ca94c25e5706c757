package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marbeck/plansync/internal/billing"
	"github.com/marbeck/plansync/internal/domain"
	"github.com/marbeck/plansync/internal/telemetry"
)

// CancelResult is returned to the caller of a successful cancellation.
type CancelResult struct {
	SubscriptionID    string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
}

// SubscriptionService handles synchronous, user-initiated subscription
// operations. Cancellation flows through the same state machine and store as
// the webhook path so the two entry points cannot diverge.
type SubscriptionService struct {
	store      domain.SubscriberStore
	provider   billing.Provider
	reconciler *Reconciler
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// NewSubscriptionService creates a SubscriptionService.
func NewSubscriptionService(
	store domain.SubscriberStore,
	provider billing.Provider,
	reconciler *Reconciler,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		store:      store,
		provider:   provider,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
	}
}

// Get returns the current subscriber snapshot for a user.
func (s *SubscriptionService) Get(ctx context.Context, userID uuid.UUID) (*domain.Subscriber, error) {
	sub, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, domain.NotFound("subscription.get", "subscriber", userID.String())
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "subscription.get", "failed to load subscriber")
	}
	return sub, nil
}

// Cancel schedules the user's subscription to end at the close of the current
// billing period.
//
// The provider call happens first; the local record is only mutated after the
// provider accepts, so a provider failure leaves no partial state and the
// user can always retry safely.
func (s *SubscriptionService) Cancel(ctx context.Context, userID uuid.UUID) (*CancelResult, error) {
	sub, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			s.countCancelFailure("subscriber_not_found")
			return nil, domain.NotFound("subscription.cancel", "subscriber", userID.String())
		}
		s.countCancelFailure("storage")
		return nil, domain.WrapError(err, domain.EINTERNAL, "subscription.cancel", "failed to load subscriber")
	}

	if sub.SubscriptionID == "" || sub.Status == domain.StatusCanceled || sub.Status == domain.StatusInactive {
		s.countCancelFailure("no_active_subscription")
		return nil, domain.ErrNoActiveSubscription
	}

	provSub, err := s.provider.CancelAtPeriodEnd(ctx, sub.SubscriptionID)
	if err != nil {
		s.countCancelFailure("provider")
		return nil, domain.WrapError(err, domain.EINTERNAL, "subscription.cancel", "billing provider call failed")
	}

	ev := domain.Event{
		Type:              domain.EventCancelRequested,
		CustomerID:        sub.CustomerID,
		SubscriptionID:    sub.SubscriptionID,
		Email:             sub.Email,
		CancelAtPeriodEnd: true,
		PeriodEnd:         provSub.CurrentPeriodEnd,
		OccurredAt:        time.Now().UTC(),
	}

	if _, err := s.reconciler.Apply(ctx, ev); err != nil {
		s.countCancelFailure("storage")
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CancellationsRequested.Inc()
	}

	s.logger.Info().
		Str("user_id", userID.String()).
		Str("subscription_id", sub.SubscriptionID).
		Time("period_end", provSub.CurrentPeriodEnd).
		Msg("subscription scheduled for period-end cancellation")

	return &CancelResult{
		SubscriptionID:    sub.SubscriptionID,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  provSub.CurrentPeriodEnd,
	}, nil
}

func (s *SubscriptionService) countCancelFailure(reason string) {
	if s.metrics != nil {
		s.metrics.CancellationsFailed.WithLabelValues(reason).Inc()
	}
}
