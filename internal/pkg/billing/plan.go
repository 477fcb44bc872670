package billing

import (
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

const fallbackPlanDays = 30

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// amountMatchesPlan checks the reported charge against the plan price. A
// mismatch routes the payment to manual review instead of granting
// entitlement.
func amountMatchesPlan(plan *models.Plan, amountCents int64, currency string) bool {
	if plan == nil {
		return true
	}
	if plan.AmountCents != amountCents {
		return false
	}
	return normalizeCurrency(plan.Currency) == normalizeCurrency(currency)
}

// defaultPlanPeriod is the entitlement period used when no plan mapping
// exists for the reported plan code.
func defaultPlanPeriod() time.Duration {
	days, err := strconv.Atoi(env.GetEnv("DEFAULT_PLAN_DAYS", ""))
	if err != nil || days <= 0 {
		days = fallbackPlanDays
	}
	return time.Duration(days) * 24 * time.Hour
}
