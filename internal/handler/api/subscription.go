// Package api holds the synchronous JSON API handlers.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/marbeck/plansync/internal/domain"
	"github.com/marbeck/plansync/internal/handler"
	"github.com/marbeck/plansync/internal/service"
)

// SubscriptionHandler exposes subscription state and user-initiated
// cancellation.
type SubscriptionHandler struct {
	subscriptions *service.SubscriptionService
	logger        zerolog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(subscriptions *service.SubscriptionService, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, logger: logger}
}

type cancelRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

type cancelSubscription struct {
	ID                string     `json:"id"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

type cancelResponse struct {
	Success      bool               `json:"success"`
	Subscription cancelSubscription `json:"subscription"`
}

type subscriptionResponse struct {
	UserID            string     `json:"user_id"`
	Email             string     `json:"email"`
	PlanTier          string     `json:"plan_tier"`
	Status            string     `json:"status"`
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
}

// Cancel schedules the caller's subscription to end at the close of the
// current billing period.
func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.cancel", "Invalid request payload"))
	}
	if err := c.Validate(&req); err != nil {
		return handler.ErrorResponse(c, err)
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.cancel", "userId must be a valid UUID"))
	}

	res, err := h.subscriptions.Cancel(c.Request().Context(), userID)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	return c.JSON(http.StatusOK, cancelResponse{
		Success: true,
		Subscription: cancelSubscription{
			ID:                res.SubscriptionID,
			CancelAtPeriodEnd: res.CancelAtPeriodEnd,
			CurrentPeriodEnd:  timePtr(res.CurrentPeriodEnd),
		},
	})
}

// Get returns the current subscription snapshot for a user.
func (h *SubscriptionHandler) Get(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.get", "userId must be a valid UUID"))
	}

	sub, err := h.subscriptions.Get(c.Request().Context(), userID)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	return c.JSON(http.StatusOK, subscriptionResponse{
		UserID:            sub.ID.String(),
		Email:             sub.Email,
		PlanTier:          string(sub.PlanTier),
		Status:            string(sub.Status),
		SubscriptionID:    sub.SubscriptionID,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PeriodEnd:         timePtr(sub.PeriodEnd),
		CanceledAt:        timePtr(sub.CanceledAt),
	})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
