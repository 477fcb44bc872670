package models

import "time"

// Plan maps a provider-specific plan reference (tier/price id) to the price we
// expect to be charged and the entitlement period one payment grants.
type Plan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Provider    string    `gorm:"type:varchar(20);not null;index:ux_plans_provider_code,unique,priority:1" json:"provider"`
	Code        string    `gorm:"type:varchar(191);not null;index:ux_plans_provider_code,unique,priority:2" json:"code"`
	Name        string    `gorm:"type:varchar(100);not null;default:''" json:"name"`
	AmountCents int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency    string    `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	PeriodDays  int       `gorm:"not null;default:30" json:"period_days"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodDuration returns the entitlement period granted per payment cycle.
// Rows created outside of GORM may carry a zero PeriodDays, so fall back to
// the 30 day default in that case.
func (p *Plan) PeriodDuration() time.Duration {
	days := p.PeriodDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
