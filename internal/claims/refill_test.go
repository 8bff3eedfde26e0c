package claims

import (
	"testing"
	"time"
)

func TestCalculateEligibleRefillDate(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		lastFillDays  int
		daysSupply    int
		percent       int
		wantEligible  bool
		wantDaysUntil int
	}{
		{"well past threshold", 30, 30, 80, true, 0},
		{"exactly at 80 percent of 30", 24, 30, 80, true, 0},
		{"one day early", 23, 30, 80, false, 1},
		{"just filled", 0, 30, 80, false, 24},
		{"default percent applies", 24, 30, 0, true, 0},
		{"stricter payer at 90 percent", 24, 30, 90, false, 3},
		{"90 day supply halfway", 36, 90, 80, false, 36},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateEligibleRefillDate(now.AddDate(0, 0, -tt.lastFillDays), tt.daysSupply, tt.percent, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.IsEligible != tt.wantEligible {
				t.Errorf("eligible = %v, want %v", got.IsEligible, tt.wantEligible)
			}
			if got.DaysUntilEligible != tt.wantDaysUntil {
				t.Errorf("days until eligible = %d, want %d", got.DaysUntilEligible, tt.wantDaysUntil)
			}
		})
	}
}

func TestCalculateEligibleRefillDateRejectsBadInput(t *testing.T) {
	now := time.Now().UTC()

	if _, err := CalculateEligibleRefillDate(time.Time{}, 30, 80, now); err == nil {
		t.Error("zero last fill date must error")
	}
	if _, err := CalculateEligibleRefillDate(now.AddDate(0, 0, 2), 30, 80, now); err == nil {
		t.Error("future last fill date must error")
	}
	if _, err := CalculateEligibleRefillDate(now.AddDate(0, 0, -5), 0, 80, now); err == nil {
		t.Error("zero days supply must error")
	}
	if _, err := CalculateEligibleRefillDate(now.AddDate(0, 0, -5), 30, 140, now); err == nil {
		t.Error("percentage above 100 must error")
	}
}
