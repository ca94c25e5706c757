package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marbeck/plansync/internal/billing"
	"github.com/marbeck/plansync/internal/domain"
	"github.com/marbeck/plansync/internal/handler"
	"github.com/marbeck/plansync/internal/plan"
	"github.com/marbeck/plansync/internal/service"
)

// stubStore serves a single subscriber and records updates.
type stubStore struct {
	sub     *domain.Subscriber
	updated *domain.Subscriber
}

func (s *stubStore) FindByUserID(_ context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	if s.sub != nil && s.sub.ID == id {
		cp := *s.sub
		return &cp, nil
	}
	return nil, domain.ErrSubscriberNotFound
}

func (s *stubStore) FindByCustomerID(_ context.Context, customerID string) (*domain.Subscriber, error) {
	if s.sub != nil && s.sub.CustomerID == customerID {
		cp := *s.sub
		return &cp, nil
	}
	return nil, domain.ErrSubscriberNotFound
}

func (s *stubStore) FindByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	if s.sub != nil && s.sub.Email == email {
		cp := *s.sub
		return &cp, nil
	}
	return nil, domain.ErrSubscriberNotFound
}

func (s *stubStore) UpsertByEmail(_ context.Context, sub domain.Subscriber) (*domain.Subscriber, error) {
	s.updated = &sub
	cp := sub
	return &cp, nil
}

func (s *stubStore) UpdateByCustomerID(_ context.Context, sub domain.Subscriber, _ time.Time) (*domain.Subscriber, error) {
	s.updated = &sub
	cp := sub
	return &cp, nil
}

func newTestAPI(store domain.SubscriberStore, provider billing.Provider) *SubscriptionHandler {
	machine := service.NewStateMachine(plan.NewResolver(plan.DefaultTable()))
	reconciler := service.NewReconciler(store, machine, provider, nil, nil, zerolog.Nop())
	svc := service.NewSubscriptionService(store, provider, reconciler, nil, zerolog.Nop())
	return NewSubscriptionHandler(svc, zerolog.Nop())
}

func doRequest(h echo.HandlerFunc, req *http.Request, pathParams map[string]string) *httptest.ResponseRecorder {
	e := echo.New()
	e.Validator = handler.NewValidator()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range pathParams {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	_ = h(c)
	return rec
}

func activeSub() *domain.Subscriber {
	return &domain.Subscriber{
		ID:             uuid.New(),
		Email:          "jane@example.com",
		CustomerID:     "cus_123",
		SubscriptionID: "sub_123",
		PlanTier:       domain.PlanPro,
		Status:         domain.StatusActive,
		UpdatedAt:      time.Now().UTC().Add(-time.Hour),
	}
}

func TestCancel_Success(t *testing.T) {
	sub := activeSub()
	store := &stubStore{sub: sub}
	periodEnd := time.Now().UTC().Add(20 * 24 * time.Hour).Truncate(time.Second)
	provider := &billing.MockProvider{
		CancelAtPeriodEndFunc: func(_ context.Context, subscriptionID string) (*billing.Subscription, error) {
			return &billing.Subscription{
				ID:                subscriptionID,
				CancelAtPeriodEnd: true,
				CurrentPeriodEnd:  periodEnd,
			}, nil
		},
	}
	h := newTestAPI(store, provider)

	body := fmt.Sprintf(`{"userId": %q}`, sub.ID)
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/cancel", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := doRequest(h.Cancel, req, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"id":"sub_123"`)
	assert.Contains(t, rec.Body.String(), `"cancel_at_period_end":true`)

	require.NotNil(t, store.updated)
	assert.True(t, store.updated.CancelAtPeriodEnd)
	assert.Equal(t, domain.StatusActive, store.updated.Status)
}

func TestCancel_UnknownUser(t *testing.T) {
	store := &stubStore{}
	h := newTestAPI(store, &billing.MockProvider{})

	body := fmt.Sprintf(`{"userId": %q}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/cancel", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := doRequest(h.Cancel, req, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, store.updated)
}

func TestCancel_NoActiveSubscription(t *testing.T) {
	sub := activeSub()
	sub.SubscriptionID = ""
	store := &stubStore{sub: sub}
	h := newTestAPI(store, &billing.MockProvider{})

	body := fmt.Sprintf(`{"userId": %q}`, sub.ID)
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/cancel", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := doRequest(h.Cancel, req, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no active subscription")
	assert.Nil(t, store.updated)
}

func TestCancel_InvalidBody(t *testing.T) {
	h := newTestAPI(&stubStore{}, &billing.MockProvider{})

	tests := []struct {
		name string
		body string
	}{
		{"missing userId", `{}`},
		{"not a uuid", `{"userId": "bob"}`},
		{"wrong type", `{"userId": 42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/subscriptions/cancel", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

			rec := doRequest(h.Cancel, req, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCancel_ProviderFailure(t *testing.T) {
	sub := activeSub()
	store := &stubStore{sub: sub}
	provider := &billing.MockProvider{
		CancelAtPeriodEndFunc: func(_ context.Context, _ string) (*billing.Subscription, error) {
			return nil, fmt.Errorf("stripe: 503 service unavailable")
		},
	}
	h := newTestAPI(store, provider)

	body := fmt.Sprintf(`{"userId": %q}`, sub.ID)
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/cancel", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := doRequest(h.Cancel, req, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "503", "provider details must not leak to clients")
	assert.Nil(t, store.updated)
}

func TestGet_Success(t *testing.T) {
	sub := activeSub()
	store := &stubStore{sub: sub}
	h := newTestAPI(store, &billing.MockProvider{})

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/"+sub.ID.String(), nil)
	rec := doRequest(h.Get, req, map[string]string{"userId": sub.ID.String()})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan_tier":"pro"`)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)
}

func TestGet_InvalidID(t *testing.T) {
	h := newTestAPI(&stubStore{}, &billing.MockProvider{})

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/bob", nil)
	rec := doRequest(h.Get, req, map[string]string{"userId": "bob"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet_NotFound(t *testing.T) {
	h := newTestAPI(&stubStore{}, &billing.MockProvider{})

	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/subscriptions/"+id, nil)
	rec := doRequest(h.Get, req, map[string]string{"userId": id})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
