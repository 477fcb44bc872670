package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// settleAttempts bounds the retries on lock/serialization conflicts before
// the failure is surfaced for provider redelivery.
const settleAttempts = 3

// Engine settles one validated webhook event into Payment and Subscription
// state. Every settlement runs inside a single transaction; either all of its
// writes commit or none do.
type Engine struct {
	db            *gorm.DB
	now           func() time.Time
	defaultPeriod time.Duration
	newRepo       func(*gorm.DB) Repository
}

// NewEngine creates a settlement engine on the given DB handle.
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{
		db:            db,
		now:           time.Now,
		defaultPeriod: defaultPlanPeriod(),
		newRepo:       NewRepository,
	}
}

// Settle reconciles the stored event into payment and subscription state.
// Conflicting concurrent settlements for the same subscription are retried a
// bounded number of times; a retry re-reads everything inside a fresh
// transaction, so no extension is computed from a stale period end.
func (e *Engine) Settle(ctx context.Context, eventID uint) error {
	var err error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return e.settle(e.newRepo(tx), eventID)
		})
		if err == nil || !isLockConflict(err) {
			return err
		}
	}
	return err
}

func (e *Engine) settle(repo Repository, eventID uint) error {
	now := e.now()

	// Re-read under lock: a concurrent semantic duplicate may have finished
	// between the dedup insert and this transaction.
	ev, err := repo.GetEventForUpdate(eventID)
	if err != nil {
		return fmt.Errorf("reload webhook event %d: %w", eventID, err)
	}
	if ev.Status == models.WebhookEventStatusProcessed || ev.Status == models.WebhookEventStatusIgnored {
		return nil
	}

	norm, err := ParseNormalizedEvent(ev.Provider, []byte(ev.PayloadJSON))
	if err != nil {
		return fmt.Errorf("stored payload for event %d: %w", eventID, err)
	}

	if norm.ExternalPaymentID == "" {
		// No payment key, nothing to settle against.
		return repo.MarkEventIgnored(ev.ID, now)
	}

	// Payment-level dedup: a different event already settled this payment.
	if _, err := repo.GetPaymentByExternalID(ev.Provider, norm.ExternalPaymentID); err == nil {
		return repo.MarkEventProcessed(ev.ID, now)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("payment lookup: %w", err)
	}

	if norm.CustomerEmail == "" {
		return fmt.Errorf("%w: event carries no customer email", ErrUserNotFound)
	}
	user, err := repo.GetUserByEmail(norm.CustomerEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("user lookup: %w", err)
	}

	var plan *models.Plan
	if norm.PlanCode != "" {
		plan, err = repo.FindActivePlan(ev.Provider, norm.PlanCode)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("plan lookup: %w", err)
		}
	}

	if !amountMatchesPlan(plan, norm.AmountCents, norm.Currency) {
		// Corrupt or fraudulent amounts never grant entitlement. The payment
		// is still recorded for the audit trail and routed to manual review;
		// the event itself was handled successfully.
		payment := &models.Payment{
			Provider:          ev.Provider,
			ExternalPaymentID: norm.ExternalPaymentID,
			UserID:            user.ID,
			AmountCents:       norm.AmountCents,
			Currency:          norm.Currency,
			Status:            models.PaymentStatusPending,
			MetadataJSON:      paymentMetadata(ev, norm, fmt.Sprintf("amount mismatch: expected %d %s", plan.AmountCents, plan.Currency)),
		}
		if err := repo.CreatePayment(payment); err != nil {
			return fmt.Errorf("create review payment: %w", err)
		}
		return repo.MarkEventProcessed(ev.ID, now)
	}

	paidAt := now
	payment := &models.Payment{
		Provider:          ev.Provider,
		ExternalPaymentID: norm.ExternalPaymentID,
		UserID:            user.ID,
		AmountCents:       norm.AmountCents,
		Currency:          norm.Currency,
		Status:            models.PaymentStatusSucceeded,
		PaidAt:            &paidAt,
		MetadataJSON:      paymentMetadata(ev, norm, ""),
	}
	if err := repo.CreatePayment(payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	period := e.defaultPeriod
	if plan != nil {
		period = plan.PeriodDuration()
	}

	var existing *models.Subscription
	sub, err := repo.GetSubscriptionForUpdate(user.ID)
	if err == nil {
		existing = sub
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("subscription lookup: %w", err)
	}

	next := NextSubscriptionState(existing, user.ID, now, period)
	if err := repo.SaveSubscription(&next); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	if err := repo.SetPaymentSubscription(payment.ID, next.ID); err != nil {
		return fmt.Errorf("link payment to subscription: %w", err)
	}

	return repo.MarkEventProcessed(ev.ID, now)
}

func paymentMetadata(ev *models.WebhookEvent, norm *NormalizedEvent, reviewReason string) string {
	meta := map[string]string{
		"event_id":   ev.EventID,
		"event_type": ev.EventType,
	}
	if norm.PlanCode != "" {
		meta["plan_code"] = norm.PlanCode
	}
	if reviewReason != "" {
		meta["review_reason"] = reviewReason
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(out)
}

// isLockConflict matches the driver-level texts for deadlocks and lock
// timeouts across MySQL and the SQLite test driver.
func isLockConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked") ||
		strings.Contains(msg, "could not serialize")
}
