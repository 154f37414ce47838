package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazelcart/api/internal/payments"
	"github.com/hazelcart/api/internal/platform/httpx"
	"github.com/hazelcart/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// webhookParser verifies and normalises one provider's callback payloads.
type webhookParser interface {
	Parse(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// WebhookHandlers receives provider payment callbacks. Only signature failures
// return a non-2xx status; every other outcome acknowledges the delivery so
// the provider stops retrying.
type WebhookHandlers struct {
	stripe   webhookParser
	payments services.PaymentService
}

// WebhookHandlersDeps wires webhook handler dependencies.
type WebhookHandlersDeps struct {
	Stripe   *payments.StripeWebhookParser
	Payments services.PaymentService
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(deps WebhookHandlersDeps) (*WebhookHandlers, error) {
	if deps.Stripe == nil {
		return nil, errors.New("webhook handlers: stripe parser is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("webhook handlers: payment service is required")
	}
	return &WebhookHandlers{
		stripe:   deps.Stripe,
		payments: deps.Payments,
	}, nil
}

// Routes attaches the provider callback endpoints to the router group.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments/stripe", h.handleStripe)
}

type webhookAckPayload struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read webhook payload", http.StatusBadRequest))
		return
	}

	event, err := h.stripe.Parse(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrWebhookSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case errors.Is(err, payments.ErrWebhookUnhandled):
		writeJSONResponse(w, http.StatusOK, webhookAckPayload{Received: true, Outcome: "ignored"})
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	if event.Status != payments.StatusSucceeded {
		writeJSONResponse(w, http.StatusOK, webhookAckPayload{Received: true, Outcome: "ignored"})
		return
	}

	confirmation, err := h.payments.Confirm(ctx, services.ConfirmPaymentCommand{
		CorrelationID: event.CorrelationID,
		Provider:      "stripe",
		TransactionID: event.TransactionID,
		Status:        string(event.Status),
		Amount:        event.Amount,
		PayerEmail:    event.PayerEmail,
	})
	if err != nil {
		// The pending record was not consumed; a retry can still apply it.
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to apply payment confirmation", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckPayload{
		Received: true,
		Outcome:  string(confirmation.Outcome),
	})
}

// InternalHandlers exposes maintenance endpoints invoked by schedulers.
type InternalHandlers struct {
	payments services.PaymentService
}

// NewInternalHandlers constructs the internal maintenance endpoints.
func NewInternalHandlers(paymentService services.PaymentService) (*InternalHandlers, error) {
	if paymentService == nil {
		return nil, errors.New("internal handlers: payment service is required")
	}
	return &InternalHandlers{payments: paymentService}, nil
}

// Routes attaches the maintenance endpoints to the router group.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/payments/sweep", h.sweepPendingPayments)
}

func (h *InternalHandlers) sweepPendingPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	removed, err := h.payments.SweepExpired(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to sweep pending payments", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"removed": removed})
}
