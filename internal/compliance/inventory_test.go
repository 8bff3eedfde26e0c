package compliance

import (
	"testing"
	"time"
)

func TestCalculateVariance(t *testing.T) {
	tests := []struct {
		name            string
		physical        float64
		system          float64
		wantVariance    float64
		wantSeverity    VarianceSeverity
		wantInvestigate bool
		wantReportable  bool
	}{
		{"exact match", 100, 100, 0, VarianceNone, false, false},
		{"minor shortage", 99.5, 100, -0.5, VarianceMinor, false, false},
		{"minor overage", 101, 100, 1, VarianceMinor, false, false},
		{"significant shortage", 97, 100, -3, VarianceSignificant, true, false},
		{"critical shortage", 90, 100, -10, VarianceCritical, true, true},
		{"critical overage not reportable", 110, 100, 10, VarianceCritical, true, false},
		{"zero system count", 5, 0, 5, VarianceMinor, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CalculateVariance(tt.physical, tt.system)
			if v.Variance != tt.wantVariance {
				t.Errorf("variance = %v, want %v", v.Variance, tt.wantVariance)
			}
			if v.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", v.Severity, tt.wantSeverity)
			}
			if v.RequiresInvestigation != tt.wantInvestigate {
				t.Errorf("requires investigation = %v, want %v", v.RequiresInvestigation, tt.wantInvestigate)
			}
			if v.DEAReportableLoss != tt.wantReportable {
				t.Errorf("DEA reportable = %v, want %v", v.DEAReportableLoss, tt.wantReportable)
			}
		})
	}
}

func TestCalculateVarianceZeroSystemPercent(t *testing.T) {
	v := CalculateVariance(5, 0)
	if v.VariancePercent != 0 {
		t.Errorf("variance percent with zero system count = %v, want 0", v.VariancePercent)
	}
}

func TestCheckBiennialInventory(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastDays int
		want     BiennialState
	}{
		{"recent inventory", 100, BiennialCurrent},
		{"just under warning window", 699, BiennialCurrent},
		{"inside warning window", 705, BiennialDueSoon},
		{"on due date", 730, BiennialDueSoon},
		{"past due", 731, BiennialOverdue},
		{"long overdue", 900, BiennialOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := CheckBiennialInventory(now.AddDate(0, 0, -tt.lastDays), now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status.State != tt.want {
				t.Errorf("state = %s, want %s (days until due %d)", status.State, tt.want, status.DaysUntilDue)
			}
		})
	}

	if _, err := CheckBiennialInventory(time.Time{}, now); err == nil {
		t.Error("zero last-inventory date must error")
	}
	if _, err := CheckBiennialInventory(now.AddDate(0, 0, 1), now); err == nil {
		t.Error("future last-inventory date must error")
	}
}

func TestAnalyzeSnapshot(t *testing.T) {
	snap := BiennialSnapshot{
		NDC:           "00093-0058-01",
		Schedule:      ScheduleII,
		PhysicalCount: 90,
		SystemCount:   100,
		CountedAt:     time.Now().UTC(),
		CountedBy:     "rph.jones",
	}
	v := AnalyzeSnapshot(snap)
	if v.Severity != VarianceCritical || !v.DEAReportableLoss {
		t.Errorf("snapshot variance = %+v, want critical reportable loss", v)
	}
}
