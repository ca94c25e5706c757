package domain

import "time"

// EventType identifies a canonical billing event.
type EventType string

const (
	// EventIgnored is the normalization of any provider event type this
	// service does not act on. The endpoint still acknowledges it.
	EventIgnored EventType = "ignored"

	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"

	// EventCancelRequested is the synchronous, user-initiated counterpart.
	// It never arrives over the webhook; the cancellation handler constructs
	// it after the provider accepts the period-end cancellation.
	EventCancelRequested EventType = "cancel_requested"
)

// Event is the canonical internal representation of one provider
// notification. It is constructed once per inbound call from the raw payload
// and discarded after processing; ordering is inferred from OccurredAt, not
// from arrival order.
type Event struct {
	Type EventType

	// CustomerID is the billing-provider customer the event is about.
	CustomerID string

	// SubscriptionID is set on subscription-scoped events.
	SubscriptionID string

	// Email is only reliably present on checkout events, where it is the
	// fallback subject key before a customer id mapping exists.
	Email string

	// PriceID is the provider price identifier, when the payload carries one.
	PriceID string

	// Amount is in major currency units. The normalizer converts from the
	// provider's minor units exactly once.
	Amount int64

	// PlanTag is an explicit plan name from event metadata, if present.
	PlanTag string

	// ProviderStatus is the provider's subscription status string on
	// subscription lifecycle events.
	ProviderStatus string

	// CancelAtPeriodEnd reflects whether the provider reports the
	// subscription as scheduled for period-end cancellation.
	CancelAtPeriodEnd bool

	// PeriodEnd is the current billing period end, when known.
	PeriodEnd time.Time

	OccurredAt time.Time
}
