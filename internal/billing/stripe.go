package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig contains Stripe provider configuration.
type StripeConfig struct {
	// APIKey is the secret key (sk_test_... or sk_live_...).
	APIKey string

	// WebhookSecret is the webhook signing secret from the Stripe dashboard.
	// Rotation is a redeploy with the new secret.
	WebhookSecret string
}

// StripeProvider implements Provider using the Stripe Go SDK.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// Compile-time check to ensure StripeProvider implements Provider.
var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrInvalidAPIKey
	}

	return &StripeProvider{
		api:           client.New(cfg.APIKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
// The API version pin lives in the dashboard, so a version mismatch between
// SDK and payload is not treated as a forgery.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	_, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return nil
}

// CancelAtPeriodEnd schedules a subscription for period-end cancellation.
func (s *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	}

	sub, err := s.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to schedule cancellation for %s: %w", subscriptionID, err)
	}

	return mapStripeSubscription(sub), nil
}

// GetSubscription retrieves a subscription from Stripe.
func (s *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}

	sub, err := s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}

	return mapStripeSubscription(sub), nil
}

// GetCustomer retrieves a customer from Stripe.
func (s *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}

	cust, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer %s: %w", customerID, err)
	}

	return &Customer{
		ID:    cust.ID,
		Email: cust.Email,
		Name:  cust.Name,
	}, nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

func mapStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}

	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		out.CanceledAt = time.Unix(sub.CanceledAt, 0).UTC()
	}

	// Period fields live on subscription items; use the latest across items.
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if end := time.Unix(item.CurrentPeriodEnd, 0).UTC(); item.CurrentPeriodEnd > 0 && end.After(out.CurrentPeriodEnd) {
				out.CurrentPeriodEnd = end
			}
		}
	}

	return out
}
