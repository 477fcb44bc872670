package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Payment records one external payment exactly once. The unique index on
// (provider, external_payment_id) is the payment-level idempotency key: two
// webhook deliveries that reference the same underlying payment settle it once.
// SubscriptionID is back-filled after the subscription is resolved, inside the
// same transaction that created the row.
type Payment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UUID              string     `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_payments_provider_external,unique,priority:1" json:"provider"`
	ExternalPaymentID string     `gorm:"type:varchar(191);not null;index:ux_payments_provider_external,unique,priority:2" json:"external_payment_id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	SubscriptionID    *uint      `gorm:"index" json:"subscription_id,omitempty"`
	AmountCents       int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string     `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	MetadataJSON      string     `gorm:"type:longtext" json:"metadata_json"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a UUID when none is set.
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == "" {
		p.UUID = uuid.New().String()
	}
	return nil
}
