package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrWebhookSignature is returned when the payload signature does not verify.
	ErrWebhookSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookUnhandled is returned for event types the parser does not map.
	ErrWebhookUnhandled = errors.New("payments: unhandled webhook event")
)

// metadataCorrelationKey is the metadata field set when the checkout session
// is created; it carries the pending payment correlation ID back on the webhook.
const metadataCorrelationKey = "correlationId"

// WebhookEvent is the normalised provider callback payload.
type WebhookEvent struct {
	Type          string
	CorrelationID string
	TransactionID string
	Status        Status
	Amount        int64
	Currency      string
	PayerEmail    string
}

// StripeWebhookParser verifies and decodes Stripe webhook deliveries.
type StripeWebhookParser struct {
	secret string
}

// NewStripeWebhookParser constructs a parser bound to the endpoint signing secret.
func NewStripeWebhookParser(secret string) (*StripeWebhookParser, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook signing secret is required")
	}
	return &StripeWebhookParser{secret: secret}, nil
}

// Parse verifies the signature header and maps the event to the normalised
// shape. Events the fulfillment flow does not react to return
// ErrWebhookUnhandled so the caller can acknowledge and drop them.
func (p *StripeWebhookParser) Parse(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: parser is nil")
	}

	event, err := webhook.ConstructEvent(payload, signatureHeader, p.secret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		result := WebhookEvent{
			Type:          string(event.Type),
			CorrelationID: session.Metadata[metadataCorrelationKey],
			Status:        StatusSucceeded,
			Amount:        session.AmountTotal,
			Currency:      strings.ToUpper(string(session.Currency)),
		}
		if session.PaymentIntent != nil {
			result.TransactionID = session.PaymentIntent.ID
		}
		if session.CustomerDetails != nil {
			result.PayerEmail = session.CustomerDetails.Email
		}
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			result.Status = StatusPending
		}
		return result, nil

	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		return WebhookEvent{
			Type:          string(event.Type),
			CorrelationID: intent.Metadata[metadataCorrelationKey],
			TransactionID: intent.ID,
			Status:        StatusSucceeded,
			Amount:        intent.Amount,
			Currency:      strings.ToUpper(string(intent.Currency)),
			PayerEmail:    intent.ReceiptEmail,
		}, nil
	}

	return WebhookEvent{Type: string(event.Type)}, ErrWebhookUnhandled
}
