package billing

import (
	"errors"
	"testing"
)

func TestParseNormalizedEvent(t *testing.T) {
	raw := []byte(`{
		"event_id": "evt_1",
		"event_type": "Payment.Succeeded",
		"external_payment_id": "pay_1",
		"customer_email": "Alice@Example.com",
		"amount_cents": 999,
		"currency": "usd",
		"plan_code": "premium_monthly"
	}`)

	ev, err := ParseNormalizedEvent("stripe", raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Provider != "stripe" || ev.EventID != "evt_1" {
		t.Fatalf("unexpected ids: provider=%q event=%q", ev.Provider, ev.EventID)
	}
	if ev.EventType != "payment.succeeded" {
		t.Fatalf("expected lowercased event type, got %q", ev.EventType)
	}
	if ev.CustomerEmail != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", ev.CustomerEmail)
	}
	if ev.Currency != "USD" {
		t.Fatalf("expected normalized currency, got %q", ev.Currency)
	}
}

func TestParseNormalizedEvent_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		body     string
	}{
		{name: "empty body", provider: "stripe", body: ""},
		{name: "not json", provider: "stripe", body: "not-json"},
		{name: "missing event id", provider: "stripe", body: `{"event_type":"payment.succeeded"}`},
		{name: "missing event type", provider: "stripe", body: `{"event_id":"evt_1"}`},
		{name: "missing provider", provider: "", body: `{"event_id":"evt_1","event_type":"payment.succeeded"}`},
		{name: "provider mismatch", provider: "stripe", body: `{"provider":"paypal","event_id":"evt_1","event_type":"payment.succeeded"}`},
		{name: "negative amount", provider: "stripe", body: `{"event_id":"evt_1","event_type":"payment.succeeded","amount_cents":-1}`},
	}

	for _, tt := range tests {
		_, err := ParseNormalizedEvent(tt.provider, []byte(tt.body))
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", tt.name, err)
		}
	}
}

func TestIsSettlementEvent(t *testing.T) {
	for _, et := range []string{"payment.succeeded", "payment.completed", "checkout.completed", "invoice.paid"} {
		if !isSettlementEvent(et) {
			t.Fatalf("expected %q to be a settlement event", et)
		}
	}
	for _, et := range []string{"payment.refunded", "customer.updated", "subscription.canceled", ""} {
		if isSettlementEvent(et) {
			t.Fatalf("expected %q to be non-settlement", et)
		}
	}
}
