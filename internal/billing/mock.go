package billing

import "context"

// MockProvider implements Provider for testing. Each method delegates to the
// corresponding Func field when set and fails otherwise.
type MockProvider struct {
	VerifyWebhookSignatureFunc func(payload []byte, signature string) error
	CancelAtPeriodEndFunc      func(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetSubscriptionFunc        func(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetCustomerFunc            func(ctx context.Context, customerID string) (*Customer, error)
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature)
	}
	return nil
}

func (m *MockProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if m.CancelAtPeriodEndFunc != nil {
		return m.CancelAtPeriodEndFunc(ctx, subscriptionID)
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subscriptionID)
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, customerID)
	}
	return nil, ErrCustomerNotFound
}
