package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "whsec_test"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Payment{},
		&models.WebhookEvent{},
		&models.Plan{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestGate(t *testing.T, db *gorm.DB) *Gate {
	t.Helper()
	g := NewGateWithSecrets(db, func(provider string) string { return testSecret })
	g.now = func() time.Time { return testNow }
	g.engine.now = g.now
	return g
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	u := &models.User{Name: "Test User", Email: email, Password: "x", Status: models.STATUS_ACTIVE}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedPlan(t *testing.T, db *gorm.DB, provider, code string, amountCents int64, currency string, days int) {
	t.Helper()
	plan := &models.Plan{
		Provider:    provider,
		Code:        code,
		AmountCents: amountCents,
		Currency:    currency,
		PeriodDays:  days,
		IsActive:    true,
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func eventBody(eventID, eventType, extPaymentID, email string, amountCents int64, currency, planCode string) []byte {
	return []byte(fmt.Sprintf(`{
		"event_id": %q,
		"event_type": %q,
		"external_payment_id": %q,
		"customer_email": %q,
		"amount_cents": %d,
		"currency": %q,
		"plan_code": %q
	}`, eventID, eventType, extPaymentID, email, amountCents, currency, planCode))
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestIngest_FreshSettlement(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	user := seedUser(t, db, "alice@example.com")
	seedPlan(t, db, "stripe", "premium_monthly", 999, "USD", 30)

	body := eventBody("evt_1", "payment.succeeded", "pay_1", "alice@example.com", 999, "USD", "premium_monthly")
	outcome, err := gate.Ingest(context.Background(), "stripe", body, signBody(body))
	if err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %q", outcome)
	}

	var payment models.Payment
	if err := db.Where("provider = ? AND external_payment_id = ?", "stripe", "pay_1").First(&payment).Error; err != nil {
		t.Fatalf("payment not found: %v", err)
	}
	if payment.Status != models.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded payment, got %q", payment.Status)
	}
	if payment.PaidAt == nil || !payment.PaidAt.Equal(testNow) {
		t.Fatalf("expected paid_at = now, got %v", payment.PaidAt)
	}
	if payment.SubscriptionID == nil {
		t.Fatalf("expected subscription back-fill on payment")
	}

	var sub models.Subscription
	if err := db.Where("user_id = ?", user.ID).First(&sub).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active subscription, got %q", sub.Status)
	}
	if !sub.CurrentPeriodStart.Equal(testNow) || !sub.CurrentPeriodEnd.Equal(testNow.Add(30*24*time.Hour)) {
		t.Fatalf("unexpected period [%v, %v]", sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	}
	if *payment.SubscriptionID != sub.ID {
		t.Fatalf("payment linked to subscription %d, want %d", *payment.SubscriptionID, sub.ID)
	}

	var ev models.WebhookEvent
	if err := db.Where("provider = ? AND event_id = ?", "stripe", "evt_1").First(&ev).Error; err != nil {
		t.Fatalf("event not found: %v", err)
	}
	if ev.Status != models.WebhookEventStatusProcessed || ev.ProcessedAt == nil {
		t.Fatalf("expected processed event, got status=%q processed_at=%v", ev.Status, ev.ProcessedAt)
	}
}

func TestIngest_DuplicateDelivery(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	seedUser(t, db, "alice@example.com")
	seedPlan(t, db, "stripe", "premium_monthly", 999, "USD", 30)

	body := eventBody("evt_1", "payment.succeeded", "pay_1", "alice@example.com", 999, "USD", "premium_monthly")
	if _, err := gate.Ingest(context.Background(), "stripe", body, signBody(body)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	var subBefore models.Subscription
	if err := db.First(&subBefore).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}

	outcome, err := gate.Ingest(context.Background(), "stripe", body, signBody(body))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", outcome)
	}

	if n := countRows(t, db, &models.WebhookEvent{}); n != 1 {
		t.Fatalf("expected 1 event row, got %d", n)
	}
	if n := countRows(t, db, &models.Payment{}); n != 1 {
		t.Fatalf("expected 1 payment row, got %d", n)
	}
	var subAfter models.Subscription
	if err := db.First(&subAfter).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}
	if !subAfter.CurrentPeriodEnd.Equal(subBefore.CurrentPeriodEnd) {
		t.Fatalf("duplicate delivery moved period end: %v -> %v", subBefore.CurrentPeriodEnd, subAfter.CurrentPeriodEnd)
	}
}

func TestIngest_PaymentLevelDedup(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	seedUser(t, db, "alice@example.com")
	seedPlan(t, db, "stripe", "premium_monthly", 999, "USD", 30)

	first := eventBody("evt_1", "payment.succeeded", "pay_1", "alice@example.com", 999, "USD", "premium_monthly")
	if _, err := gate.Ingest(context.Background(), "stripe", first, signBody(first)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	var subBefore models.Subscription
	if err := db.First(&subBefore).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}

	// Different event id, same underlying payment: a retry with a fresh
	// delivery id, or a second event type referencing one charge.
	second := eventBody("evt_2", "invoice.paid", "pay_1", "alice@example.com", 999, "USD", "premium_monthly")
	outcome, err := gate.Ingest(context.Background(), "stripe", second, signBody(second))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %q", outcome)
	}

	if n := countRows(t, db, &models.Payment{}); n != 1 {
		t.Fatalf("expected exactly one payment, got %d", n)
	}
	var subAfter models.Subscription
	if err := db.First(&subAfter).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}
	if !subAfter.CurrentPeriodEnd.Equal(subBefore.CurrentPeriodEnd) {
		t.Fatalf("second event double-extended the subscription")
	}

	var ev2 models.WebhookEvent
	if err := db.Where("event_id = ?", "evt_2").First(&ev2).Error; err != nil {
		t.Fatalf("second event not found: %v", err)
	}
	if ev2.Status != models.WebhookEventStatusProcessed {
		t.Fatalf("expected second event processed as no-op, got %q", ev2.Status)
	}
}

func TestIngest_EarlyRenewalExtends(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	user := seedUser(t, db, "alice@example.com")
	seedPlan(t, db, "stripe", "premium_monthly", 999, "USD", 30)

	periodEnd := testNow.Add(5 * 24 * time.Hour)
	if err := db.Create(&models.Subscription{
		UserID:             user.ID,
		Status:             models.SubscriptionStatusActive,
		CurrentPeriodStart: testNow.Add(-25 * 24 * time.Hour),
		CurrentPeriodEnd:   periodEnd,
	}).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	body := eventBody("evt_renew", "payment.succeeded", "pay_renew", "alice@example.com", 999, "USD", "premium_monthly")
	if _, err := gate.Ingest(context.Background(), "stripe", body, signBody(body)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var sub models.Subscription
	if err := db.Where("user_id = ?", user.ID).First(&sub).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}
	if !sub.CurrentPeriodEnd.Equal(periodEnd.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expected now+35d period end, got %v", sub.CurrentPeriodEnd)
	}
}

func TestIngest_AmountMismatchRoutesToReview(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	user := seedUser(t, db, "alice@example.com")
	seedPlan(t, db, "stripe", "premium_monthly", 999, "USD", 30)

	body := eventBody("evt_bad", "payment.succeeded", "pay_bad", "alice@example.com", 1, "USD", "premium_monthly")
	outcome, err := gate.Ingest(context.Background(), "stripe", body, signBody(body))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected processed (routed to review), got %q", outcome)
	}

	var payment models.Payment
	if err := db.Where("external_payment_id = ?", "pay_bad").First(&payment).Error; err != nil {
		t.Fatalf("audit payment not found: %v", err)
	}
	if payment.Status != models.PaymentStatusPending {
		t.Fatalf("expected pending review payment, got %q", payment.Status)
	}
	if payment.SubscriptionID != nil {
		t.Fatalf("review payment must not reference a subscription")
	}

	if n := countRows(t, db, &models.Subscription{}); n != 0 {
		t.Fatalf("mismatched amount must not grant entitlement, found %d subscriptions", n)
	}
	_ = user
}

func TestIngest_UserNotFoundRetriesViaRedelivery(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	seedPlan(t, db, "stripe", "premium_monthly", 999, "USD", 30)

	body := eventBody("evt_1", "payment.succeeded", "pay_1", "alice@example.com", 999, "USD", "premium_monthly")
	_, err := gate.Ingest(context.Background(), "stripe", body, signBody(body))
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user-not-found failure, got %v", err)
	}

	var ev models.WebhookEvent
	if err := db.Where("event_id = ?", "evt_1").First(&ev).Error; err != nil {
		t.Fatalf("event not found: %v", err)
	}
	if ev.Status != models.WebhookEventStatusFailed {
		t.Fatalf("expected failed event, got %q", ev.Status)
	}
	if ev.LastError == "" {
		t.Fatalf("expected error detail on failed event")
	}
	if n := countRows(t, db, &models.Payment{}); n != 0 {
		t.Fatalf("failed settlement must not leave a payment")
	}

	// The user shows up, the provider redelivers the same event id: the retry
	// settles and produces the fresh-settlement outcome.
	seedUser(t, db, "alice@example.com")
	outcome, err := gate.Ingest(context.Background(), "stripe", body, signBody(body))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected processed on retry, got %q", outcome)
	}

	if n := countRows(t, db, &models.WebhookEvent{}); n != 1 {
		t.Fatalf("retry must reuse the event row, got %d", n)
	}
	if n := countRows(t, db, &models.Payment{}); n != 1 {
		t.Fatalf("expected one payment after retry, got %d", n)
	}
	if n := countRows(t, db, &models.Subscription{}); n != 1 {
		t.Fatalf("expected one subscription after retry, got %d", n)
	}
}

func TestIngest_InvalidSignature(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)

	body := eventBody("evt_1", "payment.succeeded", "pay_1", "alice@example.com", 999, "USD", "")
	_, err := gate.Ingest(context.Background(), "stripe", body, "deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// An unauthenticated request must not consume a dedup slot.
	if n := countRows(t, db, &models.WebhookEvent{}); n != 0 {
		t.Fatalf("expected no event rows, got %d", n)
	}
}

func TestIngest_InvalidPayload(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)

	_, err := gate.Ingest(context.Background(), "stripe", []byte("{"), "sig")
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if n := countRows(t, db, &models.WebhookEvent{}); n != 0 {
		t.Fatalf("expected no event rows, got %d", n)
	}
}

func TestIngest_UnactionableEventType(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	seedUser(t, db, "alice@example.com")

	body := eventBody("evt_1", "customer.updated", "", "alice@example.com", 0, "", "")
	outcome, err := gate.Ingest(context.Background(), "stripe", body, signBody(body))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome)
	}

	var ev models.WebhookEvent
	if err := db.Where("event_id = ?", "evt_1").First(&ev).Error; err != nil {
		t.Fatalf("event not found: %v", err)
	}
	if ev.Status != models.WebhookEventStatusIgnored {
		t.Fatalf("expected ignored event, got %q", ev.Status)
	}
	if n := countRows(t, db, &models.Payment{}); n != 0 {
		t.Fatalf("ignored event must not create payments")
	}
}

func TestIngest_UnknownPlanCodeUsesDefaultPeriod(t *testing.T) {
	db := newTestDB(t)
	gate := newTestGate(t, db)
	user := seedUser(t, db, "alice@example.com")

	// No plan row: the amount check is skipped and the default period applies.
	body := eventBody("evt_1", "payment.succeeded", "pay_1", "alice@example.com", 4242, "EUR", "unmapped_code")
	outcome, err := gate.Ingest(context.Background(), "stripe", body, signBody(body))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected processed, got %q", outcome)
	}

	var sub models.Subscription
	if err := db.Where("user_id = ?", user.ID).First(&sub).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}
	if !sub.CurrentPeriodEnd.Equal(testNow.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expected default 30d period, got end %v", sub.CurrentPeriodEnd)
	}
}

// Two distinct events for the same user delivered at once. The subscription
// row lock serializes the settlements; a delivery that loses on a lock
// conflict is redelivered like a provider retry would. Neither extension may
// be lost and neither payment may double.
func TestIngest_ConcurrentDistinctEventsSameUser(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "alice@example.com")
	seedPlan(t, db, "stripe", "premium_monthly", 999, "USD", 30)

	bodies := [][]byte{
		eventBody("evt_a", "payment.succeeded", "pay_a", "alice@example.com", 999, "USD", "premium_monthly"),
		eventBody("evt_b", "payment.succeeded", "pay_b", "alice@example.com", 999, "USD", "premium_monthly"),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(bodies))
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gate := newTestGate(t, db)
			body := bodies[i]
			var err error
			for attempt := 0; attempt < 10; attempt++ {
				if _, err = gate.Ingest(context.Background(), "stripe", body, signBody(body)); err == nil {
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("delivery %d never settled: %v", i, err)
		}
	}

	if n := countRows(t, db, &models.Payment{}); n != 2 {
		t.Fatalf("expected two payments, got %d", n)
	}
	if n := countRows(t, db, &models.Subscription{}); n != 1 {
		t.Fatalf("expected one subscription, got %d", n)
	}
	var sub models.Subscription
	if err := db.Where("user_id = ?", user.ID).First(&sub).Error; err != nil {
		t.Fatalf("subscription not found: %v", err)
	}
	if !sub.CurrentPeriodEnd.Equal(testNow.Add(60 * 24 * time.Hour)) {
		t.Fatalf("expected both 30d extensions applied, got end %v", sub.CurrentPeriodEnd)
	}
	var events []models.WebhookEvent
	if err := db.Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	for _, ev := range events {
		if ev.Status != models.WebhookEventStatusProcessed {
			t.Fatalf("event %s ended up %q, want processed", ev.EventID, ev.Status)
		}
	}
}
