package models

import "time"

const (
	WebhookEventStatusReceived  = "received"
	WebhookEventStatusProcessed = "processed"
	WebhookEventStatusFailed    = "failed"
	WebhookEventStatusIgnored   = "ignored"
)

// WebhookEvent stores every inbound provider delivery with deduplication
// metadata. The unique index on (provider, event_id) is the event-level
// idempotency key: the insert itself is the dedup gate, so a redelivered
// event is detected atomically and never reprocessed.
type WebhookEvent struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	EventID           string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"event_id"`
	EventType         string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ExternalPaymentID string     `gorm:"type:varchar(191);not null;default:'';index" json:"external_payment_id"`
	PayloadJSON       string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status            string     `gorm:"type:varchar(20);not null;default:'received';index" json:"status"`
	LastError         string     `gorm:"type:text" json:"last_error"`
	ReceivedAt        time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt       *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
