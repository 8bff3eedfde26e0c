package compliance

import (
	"testing"
	"time"
)

func TestRequiresDEAReport(t *testing.T) {
	controlled := []LossItem{
		{NDC: "a", Schedule: ScheduleLegend, QuantityLost: 100},
		{NDC: "b", Schedule: ScheduleIV, QuantityLost: 1},
	}
	if !RequiresDEAReport(controlled) {
		t.Error("any controlled item makes the event reportable")
	}

	uncontrolled := []LossItem{
		{NDC: "a", Schedule: ScheduleLegend, QuantityLost: 100},
		{NDC: "b", Schedule: ScheduleOTC, QuantityLost: 500},
	}
	if RequiresDEAReport(uncontrolled) {
		t.Error("non-controlled losses are not DEA-reportable")
	}
	if RequiresDEAReport(nil) {
		t.Error("empty event is not reportable")
	}
}

func TestGenerateDEA106Summary(t *testing.T) {
	// Friday discovery: deadline skips the weekend to Monday.
	friday := time.Date(2026, 3, 13, 16, 30, 0, 0, time.UTC)

	items := []LossItem{
		{NDC: "00093-0058-01", DrugName: "oxycodone 5mg", Schedule: ScheduleII, QuantityLost: 120},
		{NDC: "00406-0512-01", DrugName: "oxycodone 10mg", Schedule: ScheduleII, QuantityLost: 30},
		{NDC: "00591-0385-01", DrugName: "diazepam 5mg", Schedule: ScheduleIV, QuantityLost: 60},
	}

	summary, err := GenerateDEA106Summary(items, friday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !summary.ReportRequired {
		t.Error("expected report required")
	}
	if got := summary.QuantityBySchedule[ScheduleII]; got != 150 {
		t.Errorf("Schedule II loss = %v, want 150", got)
	}
	if got := summary.QuantityBySchedule[ScheduleIV]; got != 60 {
		t.Errorf("Schedule IV loss = %v, want 60", got)
	}
	if summary.ReportDeadline.Weekday() != time.Monday {
		t.Errorf("deadline from Friday should land on Monday, got %s", summary.ReportDeadline.Weekday())
	}

	midweek := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) // Tuesday
	summary, err = GenerateDEA106Summary(items, midweek)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ReportDeadline.Weekday() != time.Wednesday {
		t.Errorf("deadline from Tuesday should be Wednesday, got %s", summary.ReportDeadline.Weekday())
	}

	if _, err := GenerateDEA106Summary(items, time.Time{}); err == nil {
		t.Error("zero discovery time must error")
	}
	if _, err := GenerateDEA106Summary([]LossItem{{NDC: "x", Schedule: ScheduleII, QuantityLost: -1}}, friday); err == nil {
		t.Error("negative quantity must error")
	}
}
