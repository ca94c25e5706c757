// Package events publishes committed subscription-state changes for
// downstream consumers (billing emails, analytics). Publishing is
// best-effort: a failed publish never rolls back a committed reconciliation.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject for subscription change events.
const DefaultSubject = "plansync.subscription.changed"

// Change describes one committed subscriber mutation.
type Change struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	CustomerID     string    `json:"customer_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	EventType      string    `json:"event_type"`
	PreviousTier   string    `json:"previous_tier"`
	PlanTier       string    `json:"plan_tier"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher emits subscription change notifications.
type Publisher interface {
	SubscriptionChanged(ctx context.Context, change Change) error
}

// NATSPublisher publishes changes to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to NATS and returns a publisher. An empty subject
// uses DefaultSubject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("plansync"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}

	if subject == "" {
		subject = DefaultSubject
	}

	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// SubscriptionChanged publishes the change as JSON.
func (p *NATSPublisher) SubscriptionChanged(_ context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// Close drains the underlying connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

// NopPublisher discards all changes. Used when NATS is not configured.
type NopPublisher struct{}

var _ Publisher = (*NopPublisher)(nil)

func (NopPublisher) SubscriptionChanged(context.Context, Change) error { return nil }
