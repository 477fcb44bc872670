package models

import (
	"testing"
	"time"
)

func TestPlanPeriodDuration(t *testing.T) {
	p := Plan{PeriodDays: 35}
	if got := p.PeriodDuration(); got != 35*24*time.Hour {
		t.Fatalf("PeriodDuration() = %v, want %v", got, 35*24*time.Hour)
	}

	// zero falls back to the 30 day default
	p = Plan{}
	if got := p.PeriodDuration(); got != 30*24*time.Hour {
		t.Fatalf("PeriodDuration() = %v, want %v", got, 30*24*time.Hour)
	}
}
