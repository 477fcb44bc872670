package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2"
)

const webhookTimeout = 15 * time.Second

// HandleProviderWebhook accepts one provider delivery and answers with the
// gate's verdict. A recognized duplicate is a success for the provider; a 5xx
// tells it to redeliver.
func HandleProviderWebhook(c *fiber.Ctx) error {
	provider := strings.TrimSpace(c.Params("provider"))
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := firstHeaderValue(c, "X-Webhook-Signature", "X-Signature", "X-Patreon-Signature")

	gate := billing.NewGate(database.GetDB())
	// Derive from the request so a client disconnect cancels the settlement
	// transaction along with the deadline.
	ctx, cancel := context.WithTimeout(c.Context(), webhookTimeout)
	defer cancel()

	outcome, err := gate.Ingest(ctx, provider, rawBody, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		case errors.Is(err, billing.ErrInvalidSignature):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		default:
			_ = counter.AddOutcome(provider, "failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
		}
	}

	_ = counter.AddOutcome(provider, string(outcome))
	switch outcome {
	case billing.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case billing.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
