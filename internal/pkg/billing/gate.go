package billing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// Gate orchestrates one webhook delivery: structural validation, signature
// verification, the dedup insert, and the settlement transaction. It holds no
// state between deliveries; all coordination lives in the store's uniqueness
// and transaction machinery so multiple instances stay correct.
type Gate struct {
	db      *gorm.DB
	engine  *Engine
	secrets SecretResolver
	now     func() time.Time
}

// NewGate creates an ingestion gate with secrets resolved from the
// environment.
func NewGate(db *gorm.DB) *Gate {
	return NewGateWithSecrets(db, EnvSecretResolver)
}

// NewGateWithSecrets creates an ingestion gate with an injected secret
// resolver.
func NewGateWithSecrets(db *gorm.DB, secrets SecretResolver) *Gate {
	return &Gate{
		db:      db,
		engine:  NewEngine(db),
		secrets: secrets,
		now:     time.Now,
	}
}

// Ingest handles one delivery end to end and returns how it was absorbed.
// Failures are classified by the sentinel errors in this package: payload and
// signature failures happen before any row exists; every later failure leaves
// a FAILED event behind for provider redelivery.
func (g *Gate) Ingest(ctx context.Context, provider string, body []byte, signature string) (Outcome, error) {
	started := g.now()

	norm, err := ParseNormalizedEvent(provider, body)
	if err != nil {
		return "", err
	}

	secret := g.secrets(norm.Provider)
	if !VerifyWebhookSignature(body, signature, secret) {
		// Deliberately detail-free: no oracle for forgery attempts.
		return "", ErrInvalidSignature
	}

	repo := NewRepository(g.db.WithContext(ctx))
	created, stored, err := repo.CreateEventIfNotExists(&models.WebhookEvent{
		Provider:          norm.Provider,
		EventID:           norm.EventID,
		EventType:         norm.EventType,
		ExternalPaymentID: norm.ExternalPaymentID,
		PayloadJSON:       string(body),
		Status:            models.WebhookEventStatusReceived,
	})
	if err != nil {
		return "", fmt.Errorf("record webhook event: %w", err)
	}
	if !created {
		switch stored.Status {
		case models.WebhookEventStatusProcessed, models.WebhookEventStatusIgnored:
			// Redelivery of a settled event is a success, no reprocessing.
			g.logOutcome(norm, OutcomeDuplicate, started, nil)
			return OutcomeDuplicate, nil
		}
		// FAILED, or RECEIVED after a crash mid-processing: the redelivery is
		// the retry. The engine re-checks both idempotency keys inside its
		// transaction, so re-running cannot double-settle.
	}

	if !isSettlementEvent(norm.EventType) {
		if err := repo.MarkEventIgnored(stored.ID, g.now()); err != nil {
			return "", fmt.Errorf("mark event ignored: %w", err)
		}
		g.logOutcome(norm, OutcomeIgnored, started, nil)
		return OutcomeIgnored, nil
	}

	if err := g.engine.Settle(ctx, stored.ID); err != nil {
		// Best effort, outside the aborted transaction so the record survives
		// the rollback. If this write fails too the event stays RECEIVED and
		// the next redelivery starts over; dedup keys are stable.
		if markErr := repo.MarkEventFailed(stored.ID, err.Error()); markErr != nil {
			log.Printf("webhook event failure not recorded provider=%s event_id=%s err=%v", norm.Provider, norm.EventID, markErr)
		}
		g.logOutcome(norm, "failed", started, err)
		return "", err
	}

	g.logOutcome(norm, OutcomeProcessed, started, nil)
	return OutcomeProcessed, nil
}

func (g *Gate) logOutcome(norm *NormalizedEvent, outcome Outcome, started time.Time, err error) {
	line := fmt.Sprintf("webhook delivery provider=%s event_id=%s type=%s outcome=%s duration=%s",
		norm.Provider, norm.EventID, norm.EventType, outcome, g.now().Sub(started))
	if norm.CustomerEmail != "" {
		line += " customer=" + maskEmail(norm.CustomerEmail)
	}
	if err != nil {
		line += fmt.Sprintf(" err=%v", err)
	}
	log.Print(line)
}

// maskEmail keeps the first character and the domain so log lines stay
// correlatable without exposing the address.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
