package billing

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
)

// NextSubscriptionState computes the subscription row after a successful
// payment. Pure function of (existing state or nil, now, period) so the
// period arithmetic stays testable without a database.
//
// Extension of an active subscription starts from max(now, currentPeriodEnd):
// an early renewal keeps the already-paid time, a lapsed renewal does not
// backdate entitlement.
func NextSubscriptionState(existing *models.Subscription, userID uint, now time.Time, period time.Duration) models.Subscription {
	if existing == nil {
		return models.Subscription{
			UserID:             userID,
			Status:             models.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.Add(period),
		}
	}

	next := *existing
	if existing.Status == models.SubscriptionStatusActive {
		next.CurrentPeriodEnd = maxTime(now, existing.CurrentPeriodEnd).Add(period)
		return next
	}

	// canceled / expired / past_due: reactivate with a fresh period
	next.Status = models.SubscriptionStatusActive
	next.CurrentPeriodStart = now
	next.CurrentPeriodEnd = now.Add(period)
	next.CancelAtPeriodEnd = false
	next.CanceledAt = nil
	return next
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
