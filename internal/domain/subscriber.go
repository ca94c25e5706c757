package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PlanTier is an enumerated entitlement level.
type PlanTier string

const (
	PlanNone       PlanTier = "none"
	PlanStarter    PlanTier = "starter"
	PlanPro        PlanTier = "pro"
	PlanBusiness   PlanTier = "business"
	PlanEnterprise PlanTier = "enterprise"
)

// Valid reports whether t is a known plan tier.
func (t PlanTier) Valid() bool {
	switch t {
	case PlanNone, PlanStarter, PlanPro, PlanBusiness, PlanEnterprise:
		return true
	}
	return false
}

// SubscriptionStatus is the lifecycle status of a subscriber's plan.
type SubscriptionStatus string

const (
	StatusInactive SubscriptionStatus = "inactive"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is a known subscription status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusInactive, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// Subscriber is the persisted entitlement record for one end user.
// It is the single source of truth for plan state; only the state machine
// mutates it, always through a SubscriberStore.
//
// A subscriber scheduled for period-end cancellation keeps its current status
// with CancelAtPeriodEnd set; the record only moves to StatusCanceled once the
// provider confirms deletion.
type Subscriber struct {
	// ID is the internal user id.
	ID uuid.UUID

	Email string

	// CustomerID is the billing-provider customer id. Empty until the first
	// successful checkout establishes the mapping.
	CustomerID string

	// SubscriptionID is the billing-provider subscription id, if any.
	SubscriptionID string

	PlanTier PlanTier

	Status SubscriptionStatus

	// CancelAtPeriodEnd marks a subscription scheduled to end at PeriodEnd.
	CancelAtPeriodEnd bool

	// PeriodEnd is when the current billing cycle (and a scheduled
	// cancellation) takes effect. Zero when unknown.
	PeriodEnd time.Time

	// CanceledAt is when the provider confirmed deletion. Zero until then.
	CanceledAt time.Time

	CreatedAt time.Time

	// UpdatedAt is monotonic non-decreasing and carries the occurred_at of the
	// newest event applied to this record. Stale events compare against it.
	UpdatedAt time.Time
}

// StateEqual reports whether two snapshots carry the same reconciled state.
// CreatedAt and UpdatedAt are excluded: a transition that changes nothing else
// must be detectable as a no-op so duplicate deliveries skip the write.
func (s Subscriber) StateEqual(o Subscriber) bool {
	return s.ID == o.ID &&
		s.Email == o.Email &&
		s.CustomerID == o.CustomerID &&
		s.SubscriptionID == o.SubscriptionID &&
		s.PlanTier == o.PlanTier &&
		s.Status == o.Status &&
		s.CancelAtPeriodEnd == o.CancelAtPeriodEnd &&
		s.PeriodEnd.Equal(o.PeriodEnd) &&
		s.CanceledAt.Equal(o.CanceledAt)
}

// Subscriber sentinel errors.
var (
	ErrSubscriberNotFound   = &Error{Code: ENOTFOUND, Message: "Subscriber not found"}
	ErrNoActiveSubscription = &Error{Code: EINVALID, Message: "Subscriber has no active subscription"}
	ErrConcurrentUpdate     = &Error{Code: ECONFLICT, Message: "Subscriber was modified concurrently"}
)

// SubscriberStore is the reconciliation store contract. Each method is a
// single atomic read-then-write against the persistence layer; concurrent
// deliveries for the same subscriber serialize here.
//
// Lookup precedence for webhook events: customer id first (stable,
// provider-assigned), email only before a customer id mapping exists.
type SubscriberStore interface {
	FindByUserID(ctx context.Context, id uuid.UUID) (*Subscriber, error)

	FindByCustomerID(ctx context.Context, customerID string) (*Subscriber, error)

	FindByEmail(ctx context.Context, email string) (*Subscriber, error)

	// UpsertByEmail inserts the subscriber or, if a row with the same email
	// already exists, overwrites its reconciled state. The unique constraint
	// on email guarantees concurrent first-checkout deliveries produce
	// exactly one row.
	UpsertByEmail(ctx context.Context, sub Subscriber) (*Subscriber, error)

	// UpdateByCustomerID writes the subscriber state keyed by customer id.
	// The write only applies when the stored updated_at still equals
	// expectedUpdatedAt; otherwise ErrConcurrentUpdate is returned and the
	// provider's retry redelivers the event against the fresh snapshot.
	UpdateByCustomerID(ctx context.Context, sub Subscriber, expectedUpdatedAt time.Time) (*Subscriber, error)
}
