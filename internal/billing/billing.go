package billing

import (
	"context"
	"time"
)

// Provider defines the interface for the billing provider.
// Implementations can use Stripe, Paddle, etc.
type Provider interface {
	// VerifyWebhookSignature verifies that a webhook request is authentic.
	// Must be called on the raw body before any parsing.
	VerifyWebhookSignature(payload []byte, signature string) error

	// CancelAtPeriodEnd schedules a subscription to cancel when the current
	// billing period ends and returns the updated subscription. The local
	// record is only mutated after this call succeeds.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetSubscription retrieves an existing subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetCustomer retrieves a customer record. Used for reconciliation when a
	// webhook references a customer id with no local mapping, to recover the
	// email before giving up on the subject.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
}

// Subscription represents a provider subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string // "active", "past_due", "canceled", ...
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	CanceledAt        time.Time
}

// Customer represents a provider customer.
type Customer struct {
	ID    string
	Email string
	Name  string
}
