package billing

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/marbeck/plansync/internal/domain"
)

// Payload structs for the fields this service reads from Stripe objects.
// Webhook payloads arrive unexpanded, so references are plain id strings.

type checkoutSessionPayload struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Subscription string            `json:"subscription"`
	AmountTotal  int64             `json:"amount_total"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CanceledAt        int64  `json:"canceled_at"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID         string            `json:"id"`
				UnitAmount int64             `json:"unit_amount"`
				Metadata   map[string]string `json:"metadata"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountPaid int64 `json:"amount_paid"`
	AmountDue  int64 `json:"amount_due"`
}

// Normalize parses a verified provider event into the canonical internal
// representation. Unknown event types normalize to EventIgnored, never an
// error; subscription-lifecycle events missing their subject customer id are
// malformed.
//
// Amounts are converted from minor to major currency units here, once.
func Normalize(event stripe.Event) (domain.Event, error) {
	occurredAt := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed":
		return normalizeCheckout(event, occurredAt)

	case "customer.subscription.created":
		return normalizeSubscription(event, domain.EventSubscriptionCreated, occurredAt)

	case "customer.subscription.updated":
		return normalizeSubscription(event, domain.EventSubscriptionUpdated, occurredAt)

	case "customer.subscription.deleted":
		return normalizeSubscription(event, domain.EventSubscriptionDeleted, occurredAt)

	case "invoice.payment_succeeded", "invoice.paid":
		return normalizeInvoice(event, domain.EventPaymentSucceeded, occurredAt)

	case "invoice.payment_failed":
		return normalizeInvoice(event, domain.EventPaymentFailed, occurredAt)

	default:
		return domain.Event{Type: domain.EventIgnored, OccurredAt: occurredAt}, nil
	}
}

func normalizeCheckout(event stripe.Event, occurredAt time.Time) (domain.Event, error) {
	var session checkoutSessionPayload
	if err := unmarshalPayload(event, &session); err != nil {
		return domain.Event{}, err
	}

	email := session.CustomerEmail
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}

	// A checkout without a customer id or an email can never be matched to a
	// subscriber, so it is structurally malformed.
	if session.Customer == "" && email == "" {
		return domain.Event{}, domain.Errorf(domain.EINVALID, "billing.normalize",
			"checkout session %s has neither customer id nor email", session.ID)
	}

	return domain.Event{
		Type:           domain.EventCheckoutCompleted,
		CustomerID:     session.Customer,
		SubscriptionID: session.Subscription,
		Email:          email,
		Amount:         session.AmountTotal / 100,
		PlanTag:        session.Metadata["plan"],
		OccurredAt:     occurredAt,
	}, nil
}

func normalizeSubscription(event stripe.Event, eventType domain.EventType, occurredAt time.Time) (domain.Event, error) {
	var sub subscriptionPayload
	if err := unmarshalPayload(event, &sub); err != nil {
		return domain.Event{}, err
	}

	if sub.Customer == "" {
		return domain.Event{}, domain.Errorf(domain.EINVALID, "billing.normalize",
			"%s event missing subject customer id", event.Type)
	}

	ev := domain.Event{
		Type:              eventType,
		CustomerID:        sub.Customer,
		SubscriptionID:    sub.ID,
		ProviderStatus:    sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PlanTag:           sub.Metadata["plan"],
		OccurredAt:        occurredAt,
	}

	periodEnd := sub.CurrentPeriodEnd
	for _, item := range sub.Items.Data {
		if item.CurrentPeriodEnd > periodEnd {
			periodEnd = item.CurrentPeriodEnd
		}
		if ev.PriceID == "" && item.Price.ID != "" {
			ev.PriceID = item.Price.ID
			ev.Amount = item.Price.UnitAmount / 100
			if ev.PlanTag == "" {
				ev.PlanTag = item.Price.Metadata["plan"]
			}
		}
	}
	if periodEnd > 0 {
		ev.PeriodEnd = time.Unix(periodEnd, 0).UTC()
	}

	return ev, nil
}

func normalizeInvoice(event stripe.Event, eventType domain.EventType, occurredAt time.Time) (domain.Event, error) {
	var invoice invoicePayload
	if err := unmarshalPayload(event, &invoice); err != nil {
		return domain.Event{}, err
	}

	subscriptionID := invoice.Subscription
	if subscriptionID == "" && invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
		subscriptionID = invoice.Parent.SubscriptionDetails.Subscription
	}

	// Invoices unrelated to a subscription (one-off charges) carry no
	// entitlement signal.
	if subscriptionID == "" {
		return domain.Event{Type: domain.EventIgnored, OccurredAt: occurredAt}, nil
	}

	if invoice.Customer == "" {
		return domain.Event{}, domain.Errorf(domain.EINVALID, "billing.normalize",
			"%s event missing subject customer id", event.Type)
	}

	amount := invoice.AmountPaid
	if amount == 0 {
		amount = invoice.AmountDue
	}

	return domain.Event{
		Type:           eventType,
		CustomerID:     invoice.Customer,
		SubscriptionID: subscriptionID,
		Email:          invoice.CustomerEmail,
		Amount:         amount / 100,
		OccurredAt:     occurredAt,
	}, nil
}

func unmarshalPayload(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.Errorf(domain.EINVALID, "billing.normalize", "event %s has no payload", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return domain.WrapError(err, domain.EINVALID, "billing.normalize", "malformed event payload")
	}
	return nil
}
