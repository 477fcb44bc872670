package billing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NormalizedEvent is the provider-agnostic shape every inbound webhook body
// must parse into before any side effect happens. Provider adapters upstream
// are expected to deliver this shape; the core does no provider-specific
// payload parsing beyond it.
type NormalizedEvent struct {
	Provider          string `json:"provider"`
	EventID           string `json:"event_id" validate:"required"`
	EventType         string `json:"event_type" validate:"required"`
	ExternalPaymentID string `json:"external_payment_id"`
	CustomerEmail     string `json:"customer_email" validate:"omitempty,email"`
	AmountCents       int64  `json:"amount_cents" validate:"gte=0"`
	Currency          string `json:"currency"`
	PlanCode          string `json:"plan_code"`
}

// Outcome is the gate's answer for a delivery that did not fail.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// ParseNormalizedEvent validates a raw body into a NormalizedEvent. The
// provider from routing is authoritative; a provider field inside the payload
// must agree with it when present.
func ParseNormalizedEvent(provider string, body []byte) (*NormalizedEvent, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidPayload)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var ev NormalizedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Provider != "" && strings.ToLower(strings.TrimSpace(ev.Provider)) != p {
		return nil, fmt.Errorf("%w: payload provider %q does not match route provider %q", ErrInvalidPayload, ev.Provider, p)
	}
	ev.Provider = p
	ev.EventID = strings.TrimSpace(ev.EventID)
	ev.EventType = strings.ToLower(strings.TrimSpace(ev.EventType))
	ev.ExternalPaymentID = strings.TrimSpace(ev.ExternalPaymentID)
	ev.CustomerEmail = strings.ToLower(strings.TrimSpace(ev.CustomerEmail))
	ev.Currency = normalizeCurrency(ev.Currency)
	ev.PlanCode = strings.TrimSpace(ev.PlanCode)

	if err := validator.New().Struct(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &ev, nil
}

// isSettlementEvent reports whether an event type feeds the settlement engine.
// Everything else is recorded and marked ignored.
func isSettlementEvent(eventType string) bool {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "payment.succeeded", "payment.completed", "checkout.completed", "invoice.paid":
		return true
	default:
		return false
	}
}
