// Package webhook receives billing-provider webhook deliveries.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"

	"github.com/marbeck/plansync/internal/billing"
	"github.com/marbeck/plansync/internal/domain"
	"github.com/marbeck/plansync/internal/handler"
	"github.com/marbeck/plansync/internal/service"
	"github.com/marbeck/plansync/internal/telemetry"
)

// StripeHandler handles Stripe webhook events.
//
// Responses follow the provider's retry contract: 2xx acknowledges the
// delivery, 4xx marks it permanently rejected, 5xx asks for a redelivery.
// Events whose subject cannot be found are acknowledged, because no number of
// retries will make an unknown customer appear.
type StripeHandler struct {
	provider   billing.Provider
	reconciler *service.Reconciler
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// NewStripeHandler creates a new Stripe webhook handler.
func NewStripeHandler(provider billing.Provider, reconciler *service.Reconciler, metrics *telemetry.Metrics, logger zerolog.Logger) *StripeHandler {
	return &StripeHandler{
		provider:   provider,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
	}
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// HandleWebhook processes one incoming Stripe webhook delivery.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/billing
//	stripe trigger checkout.session.completed
func (h *StripeHandler) HandleWebhook(c echo.Context) error {
	start := time.Now()
	req := c.Request()

	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return handler.ErrorResponse(c, domain.Errorf(domain.EINVALID, "webhook.stripe", "Error reading request body"))
	}

	signature := req.Header.Get("Stripe-Signature")
	if signature == "" {
		h.countFailure("", "missing_signature")
		return handler.ErrorResponse(c, domain.Unauthorized("webhook.stripe", "Missing signature"))
	}

	// Verify on the raw body before any parsing.
	if err := h.provider.VerifyWebhookSignature(payload, signature); err != nil {
		h.logger.Warn().Err(err).Msg("webhook signature verification failed")
		h.countFailure("", "invalid_signature")
		return handler.ErrorResponse(c, domain.Unauthorized("webhook.stripe", "Invalid signature"))
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.countFailure("", "malformed_json")
		return handler.ErrorResponse(c, domain.WrapError(err, domain.EINVALID, "webhook.stripe", "Invalid JSON payload"))
	}

	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(string(event.Type)).Inc()
		defer func() {
			h.metrics.WebhookLatency.WithLabelValues(string(event.Type)).Observe(time.Since(start).Seconds())
		}()
	}

	logger := h.logger.With().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Logger()
	logger.Debug().Int("payload_bytes", len(payload)).Msg("webhook received")

	ev, err := billing.Normalize(event)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed webhook event")
		h.countFailure(string(event.Type), "malformed_event")
		return handler.ErrorResponse(c, err)
	}

	if _, err := h.reconciler.Apply(req.Context(), ev); err != nil {
		// An unknown subject is acknowledged: Stripe retrying the same
		// delivery can never resolve it, and returning an error would only
		// park the event in their dead-letter queue.
		if domain.IsCode(err, domain.ENOTFOUND) {
			logger.Warn().Err(err).
				Str("customer_id", ev.CustomerID).
				Msg("webhook subject not found, acknowledging")
			return c.JSON(http.StatusOK, receivedResponse{Received: true})
		}

		// A lost compare-and-update race is retryable: respond 5xx so the
		// provider redelivers against the fresh snapshot.
		if domain.IsCode(err, domain.ECONFLICT) {
			logger.Warn().Err(err).
				Str("customer_id", ev.CustomerID).
				Msg("concurrent update lost the race, requesting redelivery")
			h.countFailure(string(event.Type), "conflict")
			return handler.ErrorResponse(c, domain.WrapError(err, domain.EINTERNAL, "webhook.stripe", "Failed to process event"))
		}

		logger.Error().Err(err).Msg("failed to reconcile webhook event")
		h.countFailure(string(event.Type), "reconcile_failed")
		return handler.ErrorResponse(c, domain.WrapError(err, domain.EINTERNAL, "webhook.stripe", "Failed to process event"))
	}

	return c.JSON(http.StatusOK, receivedResponse{Received: true})
}

func (h *StripeHandler) countFailure(eventType, reason string) {
	if h.metrics != nil {
		h.metrics.WebhookFailed.WithLabelValues(eventType, reason).Inc()
	}
}
