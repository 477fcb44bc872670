package billing

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the ingestion gate and the
// settlement engine. The engine constructs one per transaction handle so
// every read and write shares the transaction's snapshot.
type Repository interface {
	CreateEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetEventForUpdate(id uint) (*models.WebhookEvent, error)
	MarkEventProcessed(id uint, at time.Time) error
	MarkEventIgnored(id uint, at time.Time) error
	MarkEventFailed(id uint, detail string) error

	GetPaymentByExternalID(provider, externalPaymentID string) (*models.Payment, error)
	CreatePayment(payment *models.Payment) error
	SetPaymentSubscription(paymentID, subscriptionID uint) error

	GetUserByEmail(email string) (*models.User, error)
	GetSubscriptionForUpdate(userID uint) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	FindActivePlan(provider, code string) (*models.Plan, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM. Pass a
// transaction handle to scope all operations to that transaction.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateEventIfNotExists inserts the event keyed by (provider, event_id) and
// reports whether this call created it. ON CONFLICT DO NOTHING makes the
// insert itself the dedup gate: concurrent deliveries of the same event are
// serialized by the unique index, never by a check-then-insert.
func (r *gormRepository) CreateEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND event_id = ?", event.Provider, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetEventForUpdate(id uint) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	err := r.withRowLock().Where("id = ?", id).First(&ev).Error
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// withRowLock adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serializes writers on its own and rejects the clause.
func (r *gormRepository) withRowLock() *gorm.DB {
	if r.db.Dialector.Name() == "sqlite" {
		return r.db
	}
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormRepository) MarkEventProcessed(id uint, at time.Time) error {
	return r.markEvent(id, models.WebhookEventStatusProcessed, &at, "")
}

func (r *gormRepository) MarkEventIgnored(id uint, at time.Time) error {
	return r.markEvent(id, models.WebhookEventStatusIgnored, &at, "")
}

func (r *gormRepository) MarkEventFailed(id uint, detail string) error {
	return r.markEvent(id, models.WebhookEventStatusFailed, nil, detail)
}

func (r *gormRepository) markEvent(id uint, status string, processedAt *time.Time, detail string) error {
	updates := map[string]interface{}{
		"status":     status,
		"last_error": detail,
	}
	if processedAt != nil {
		updates["processed_at"] = processedAt
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetPaymentByExternalID(provider, externalPaymentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("provider = ? AND external_payment_id = ?", provider, externalPaymentID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreatePayment(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

func (r *gormRepository) SetPaymentSubscription(paymentID, subscriptionID uint) error {
	return r.db.Model(&models.Payment{}).Where("id = ?", paymentID).
		Update("subscription_id", subscriptionID).Error
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	var u models.User
	err := r.db.Where("email = ?", email).First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetSubscriptionForUpdate locks the user's subscription row for the rest of
// the transaction so two concurrent settlements cannot both extend from the
// same "before" period end.
func (r *gormRepository) GetSubscriptionForUpdate(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.withRowLock().Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) FindActivePlan(provider, code string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("provider = ? AND code = ? AND is_active = ?", provider, code, true).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
