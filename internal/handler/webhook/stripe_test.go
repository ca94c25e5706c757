package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marbeck/plansync/internal/billing"
	"github.com/marbeck/plansync/internal/domain"
	"github.com/marbeck/plansync/internal/plan"
	"github.com/marbeck/plansync/internal/service"
)

// fakeStore is a minimal in-memory SubscriberStore for handler tests.
type fakeStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]domain.Subscriber
	writes int

	// failNext is returned (and cleared) by the next write call.
	failNext error
}

func (s *fakeStore) takeFailure() error {
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	return nil
}

func newFakeStore(subs ...domain.Subscriber) *fakeStore {
	s := &fakeStore{rows: make(map[uuid.UUID]domain.Subscriber)}
	for _, sub := range subs {
		s.rows[sub.ID] = sub
	}
	return s
}

func (s *fakeStore) FindByUserID(_ context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.rows[id]; ok {
		cp := sub
		return &cp, nil
	}
	return nil, domain.ErrSubscriberNotFound
}

func (s *fakeStore) FindByCustomerID(_ context.Context, customerID string) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.rows {
		if sub.CustomerID == customerID && customerID != "" {
			cp := sub
			return &cp, nil
		}
	}
	return nil, domain.ErrSubscriberNotFound
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.rows {
		if sub.Email == email && email != "" {
			cp := sub
			return &cp, nil
		}
	}
	return nil, domain.ErrSubscriberNotFound
}

func (s *fakeStore) UpsertByEmail(_ context.Context, sub domain.Subscriber) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	for id, existing := range s.rows {
		if existing.Email == sub.Email {
			sub.ID = id
			s.rows[id] = sub
			s.writes++
			cp := sub
			return &cp, nil
		}
	}
	s.rows[sub.ID] = sub
	s.writes++
	cp := sub
	return &cp, nil
}

func (s *fakeStore) UpdateByCustomerID(_ context.Context, sub domain.Subscriber, expectedUpdatedAt time.Time) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	for id, existing := range s.rows {
		if existing.CustomerID == sub.CustomerID {
			if !existing.UpdatedAt.Equal(expectedUpdatedAt) {
				return nil, domain.ErrConcurrentUpdate
			}
			sub.ID = id
			s.rows[id] = sub
			s.writes++
			cp := sub
			return &cp, nil
		}
	}
	return nil, domain.ErrSubscriberNotFound
}

func newTestHandler(store domain.SubscriberStore, provider billing.Provider) *StripeHandler {
	machine := service.NewStateMachine(plan.NewResolver(plan.DefaultTable()))
	reconciler := service.NewReconciler(store, machine, provider, nil, nil, zerolog.Nop())
	return NewStripeHandler(provider, reconciler, nil, zerolog.Nop())
}

func postWebhook(t *testing.T, h *StripeHandler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h.HandleWebhook(e.NewContext(req, rec)))
	return rec
}

func checkoutEventJSON(created int64) string {
	return fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": %d,
		"data": {
			"object": {
				"id": "cs_1",
				"customer": "cus_123",
				"customer_details": {"email": "jane@example.com"},
				"subscription": "sub_123",
				"amount_total": 1900
			}
		}
	}`, created)
}

func TestHandleWebhook_CheckoutCreatesSubscriber(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &billing.MockProvider{})

	rec := postWebhook(t, h, checkoutEventJSON(time.Now().Unix()), "t=1,v1=valid")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())

	saved, err := store.FindByCustomerID(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, saved.PlanTier)
	assert.Equal(t, domain.StatusActive, saved.Status)
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &billing.MockProvider{})

	rec := postWebhook(t, h, checkoutEventJSON(time.Now().Unix()), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, store.writes)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	store := newFakeStore()
	provider := &billing.MockProvider{
		VerifyWebhookSignatureFunc: func(_ []byte, _ string) error {
			return billing.ErrInvalidWebhookSignature
		},
	}
	h := newTestHandler(store, provider)

	rec := postWebhook(t, h, checkoutEventJSON(time.Now().Unix()), "t=1,v1=bogus")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, store.writes)
}

func TestHandleWebhook_MalformedJSON(t *testing.T) {
	h := newTestHandler(newFakeStore(), &billing.MockProvider{})

	rec := postWebhook(t, h, `{"type": "checkout`, "t=1,v1=valid")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_MalformedEvent(t *testing.T) {
	// Lifecycle event with no subject customer id is permanently rejected.
	body := `{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"created": 1750000000,
		"data": {"object": {"id": "sub_123", "status": "active"}}
	}`
	store := newFakeStore()
	h := newTestHandler(store, &billing.MockProvider{})

	rec := postWebhook(t, h, body, "t=1,v1=valid")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, store.writes)
}

func TestHandleWebhook_UnknownEventTypeAcknowledged(t *testing.T) {
	body := `{
		"id": "evt_3",
		"type": "customer.tax_id.created",
		"created": 1750000000,
		"data": {"object": {"id": "txi_1"}}
	}`
	store := newFakeStore()
	h := newTestHandler(store, &billing.MockProvider{})

	rec := postWebhook(t, h, body, "t=1,v1=valid")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	assert.Zero(t, store.writes)
}

func TestHandleWebhook_UnknownSubjectAcknowledged(t *testing.T) {
	body := `{
		"id": "evt_4",
		"type": "invoice.payment_failed",
		"created": 1750000000,
		"data": {"object": {"id": "in_1", "customer": "cus_stranger", "subscription": "sub_9", "amount_due": 1900}}
	}`
	store := newFakeStore()
	h := newTestHandler(store, &billing.MockProvider{})

	rec := postWebhook(t, h, body, "t=1,v1=valid")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	assert.Zero(t, store.writes)
}

func TestHandleWebhook_ConcurrentUpdateConflictIsRetryable(t *testing.T) {
	// A write that loses the compare-and-update race must come back as a
	// server error so the provider redelivers; a 4xx would tell it to stop
	// and the event's change would never apply.
	sub := domain.Subscriber{
		ID:             uuid.New(),
		Email:          "jane@example.com",
		CustomerID:     "cus_123",
		SubscriptionID: "sub_123",
		PlanTier:       domain.PlanPro,
		Status:         domain.StatusActive,
		UpdatedAt:      time.Now().Add(-time.Hour).UTC(),
	}
	store := newFakeStore(sub)
	store.failNext = domain.ErrConcurrentUpdate
	h := newTestHandler(store, &billing.MockProvider{})

	body := fmt.Sprintf(`{
		"id": "evt_6",
		"type": "invoice.payment_failed",
		"created": %d,
		"data": {"object": {"id": "in_2", "customer": "cus_123", "subscription": "sub_123", "amount_due": 1900}}
	}`, time.Now().Unix())

	rec := postWebhook(t, h, body, "t=1,v1=valid")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, store.writes)

	// With the conflict cleared, the redelivery succeeds.
	rec = postWebhook(t, h, body, "t=1,v1=valid")
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := store.FindByCustomerID(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, saved.Status)
}

func TestHandleWebhook_DuplicateDeliveryAcknowledgedOnce(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &billing.MockProvider{})
	body := checkoutEventJSON(time.Now().Unix())

	first := postWebhook(t, h, body, "t=1,v1=valid")
	second := postWebhook(t, h, body, "t=1,v1=valid")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, store.writes, "redelivery must not write twice")
}

func TestHandleWebhook_SubscriptionLifecycle(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &billing.MockProvider{})
	now := time.Now().Unix()

	rec := postWebhook(t, h, checkoutEventJSON(now), "t=1,v1=valid")
	require.Equal(t, http.StatusOK, rec.Code)

	deleted := fmt.Sprintf(`{
		"id": "evt_5",
		"type": "customer.subscription.deleted",
		"created": %d,
		"data": {"object": {"id": "sub_123", "customer": "cus_123", "status": "canceled"}}
	}`, now+60)
	rec = postWebhook(t, h, deleted, "t=1,v1=valid")
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := store.FindByCustomerID(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanNone, saved.PlanTier)
	assert.Equal(t, domain.StatusCanceled, saved.Status)
}

func TestHandleWebhook_ResponseBodyIsJSON(t *testing.T) {
	h := newTestHandler(newFakeStore(), &billing.MockProvider{})

	rec := postWebhook(t, h, checkoutEventJSON(time.Now().Unix()), "t=1,v1=valid")

	var resp struct {
		Received bool `json:"received"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
}
