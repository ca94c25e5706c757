package service

import (
	"time"

	"github.com/marbeck/plansync/internal/domain"
	"github.com/marbeck/plansync/internal/plan"
)

// StateMachine computes subscriber state transitions. It is the only
// component that derives subscriber mutations; every entry point (webhook or
// user command) routes through it so behavior cannot drift between them.
type StateMachine struct {
	resolver *plan.Resolver
}

// NewStateMachine creates a state machine using the given plan resolver.
func NewStateMachine(resolver *plan.Resolver) *StateMachine {
	return &StateMachine{resolver: resolver}
}

// Transition computes the next subscriber snapshot for one canonical event.
//
// It is a pure function of (current snapshot, event): applying the same event
// twice against the resulting snapshot yields an identical snapshot, which the
// store detects with StateEqual and skips.
//
// Ordering: an event whose OccurredAt is older than the snapshot's UpdatedAt
// is stale. Stale events may still fill in identifiers and period bookkeeping
// but never change status, plan tier, or the cancellation flag, so an
// out-of-order PaymentFailed cannot undo a later PaymentSucceeded.
func (m *StateMachine) Transition(cur domain.Subscriber, ev domain.Event) domain.Subscriber {
	next := cur
	stale := !ev.OccurredAt.IsZero() && ev.OccurredAt.Before(cur.UpdatedAt)

	switch ev.Type {
	case domain.EventCheckoutCompleted:
		if ev.CustomerID != "" {
			next.CustomerID = ev.CustomerID
		}
		if ev.SubscriptionID != "" {
			next.SubscriptionID = ev.SubscriptionID
		}
		if !stale {
			next.PlanTier = m.resolver.Resolve(ev.PlanTag, ev.PriceID, ev.Amount)
			next.Status = domain.StatusActive
			next.CancelAtPeriodEnd = false
			next.CanceledAt = time.Time{}
		}

	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated:
		if ev.CustomerID != "" {
			next.CustomerID = ev.CustomerID
		}
		if ev.SubscriptionID != "" {
			next.SubscriptionID = ev.SubscriptionID
		}
		if !ev.PeriodEnd.IsZero() {
			// Recorded even for stale events; a scheduled cancellation date
			// is period bookkeeping, not status.
			next.PeriodEnd = ev.PeriodEnd
		}
		if !stale {
			next.Status = mapProviderStatus(ev.ProviderStatus)
			next.CancelAtPeriodEnd = ev.CancelAtPeriodEnd && next.Status != domain.StatusInactive

			if next.Status == domain.StatusCanceled {
				next.PlanTier = domain.PlanNone
				next.CancelAtPeriodEnd = false
				if next.CanceledAt.IsZero() {
					next.CanceledAt = ev.OccurredAt
				}
			} else {
				next.CanceledAt = time.Time{}
				if ev.PriceID != "" || ev.Amount > 0 || ev.PlanTag != "" {
					next.PlanTier = m.resolver.Resolve(ev.PlanTag, ev.PriceID, ev.Amount)
				}
			}
		}

	case domain.EventSubscriptionDeleted:
		if ev.CustomerID != "" {
			next.CustomerID = ev.CustomerID
		}
		if ev.SubscriptionID != "" {
			next.SubscriptionID = ev.SubscriptionID
		}
		if !stale {
			next.PlanTier = domain.PlanNone
			next.Status = domain.StatusCanceled
			next.CancelAtPeriodEnd = false
			next.CanceledAt = ev.OccurredAt
		}

	case domain.EventPaymentSucceeded:
		if !subscriptionMatches(cur, ev) {
			return cur
		}
		if !stale && cur.Status == domain.StatusPastDue {
			next.Status = domain.StatusActive
		}

	case domain.EventPaymentFailed:
		if !subscriptionMatches(cur, ev) {
			return cur
		}
		// Canceled and inactive subscribers have nothing to dun.
		if !stale && (cur.Status == domain.StatusActive || cur.Status == domain.StatusPastDue) {
			next.Status = domain.StatusPastDue
		}

	case domain.EventCancelRequested:
		if cur.SubscriptionID == "" {
			return cur
		}
		if !ev.PeriodEnd.IsZero() {
			next.PeriodEnd = ev.PeriodEnd
		}
		if !stale && cur.Status != domain.StatusInactive && cur.Status != domain.StatusCanceled {
			next.CancelAtPeriodEnd = true
		}

	default:
		return cur
	}

	if !next.StateEqual(cur) {
		next.UpdatedAt = maxTime(cur.UpdatedAt, ev.OccurredAt)
	}

	return next
}

// mapProviderStatus translates a provider subscription status into the local
// enum. Unknown values are treated as active rather than silently regressing
// entitlements.
func mapProviderStatus(status string) domain.SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return domain.StatusActive
	case "past_due", "unpaid":
		return domain.StatusPastDue
	case "canceled":
		return domain.StatusCanceled
	case "incomplete", "incomplete_expired", "paused":
		return domain.StatusInactive
	default:
		return domain.StatusActive
	}
}

// subscriptionMatches reports whether a payment event addresses the
// subscriber's current subscription. Events for an unrelated subscription are
// no-ops rather than errors.
func subscriptionMatches(cur domain.Subscriber, ev domain.Event) bool {
	if ev.SubscriptionID == "" || cur.SubscriptionID == "" {
		return true
	}
	return ev.SubscriptionID == cur.SubscriptionID
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
