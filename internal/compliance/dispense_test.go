package compliance

import (
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

const testDEA = "AB1234563"

func daysAgo(n int) time.Time {
	return testNow.AddDate(0, 0, -n)
}

func TestScheduleRulesRefillInvariant(t *testing.T) {
	// Schedule I is never dispensable, so its refill and validity figures
	// are asserted vacuously zero; among dispensable schedules the
	// zero-refill rule singles out Schedule II.
	for _, s := range Schedules() {
		rules, ok := RulesFor(s)
		if !ok {
			t.Fatalf("missing rules for schedule %s", s)
		}
		if !s.Dispensable() {
			if rules.RefillsAllowed != 0 || rules.PrescriptionValidDays != 0 {
				t.Errorf("schedule %s is not dispensable yet carries allowances: refills %d, valid days %d",
					s, rules.RefillsAllowed, rules.PrescriptionValidDays)
			}
			continue
		}
		if (rules.RefillsAllowed == 0) != (s == ScheduleII) {
			t.Errorf("schedule %s: RefillsAllowed == 0 must hold iff Schedule II, got %d", s, rules.RefillsAllowed)
		}
	}
}

func TestOnlyScheduleIIsNotDispensable(t *testing.T) {
	for _, s := range Schedules() {
		if s.Dispensable() != (s != ScheduleI) {
			t.Errorf("schedule %s: Dispensable() = %v", s, s.Dispensable())
		}
	}
}

func TestScheduleRulesPerpetualInventory(t *testing.T) {
	for _, s := range Schedules() {
		rules, _ := RulesFor(s)
		if rules.PerpetualInventoryRequired != s.IsControlled() {
			t.Errorf("schedule %s: perpetual inventory requirement mismatch", s)
		}
	}
}

func TestValidateDispensingScheduleIIExpiry(t *testing.T) {
	// Written 91 days ago: expired. Written 89 days ago: fine.
	result, err := ValidateDispensing(ScheduleII, daysAgo(91), 0, false, testDEA, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected 91-day-old Schedule II prescription to be rejected")
	}
	if !hasReason(result.Errors, "expired") {
		t.Errorf("expected an expiration reason, got %v", result.Errors)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected expiration to be the sole error, got %v", result.Errors)
	}

	result, err = ValidateDispensing(ScheduleII, daysAgo(89), 0, false, testDEA, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected 89-day-old prescription to pass, got errors %v", result.Errors)
	}
}

func TestValidateDispensingScheduleIIRefill(t *testing.T) {
	result, err := ValidateDispensing(ScheduleII, daysAgo(30), 1, false, testDEA, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatal("Schedule II refill must be rejected")
	}
	if !hasReason(result.Errors, "refill") {
		t.Errorf("expected a refill reason, got %v", result.Errors)
	}
}

func TestValidateDispensingScheduleI(t *testing.T) {
	result, err := ValidateDispensing(ScheduleI, daysAgo(1), 0, false, testDEA, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatal("Schedule I must never validate")
	}
}

func TestValidateDispensingAccumulatesViolations(t *testing.T) {
	// Expired, refill beyond allowance, and missing DEA all at once.
	result, err := ValidateDispensing(ScheduleII, daysAgo(120), 2, false, "", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected rejection")
	}
	if len(result.Errors) < 3 {
		t.Errorf("expected accumulated violations, got %v", result.Errors)
	}
}

func TestValidateDispensingDEAWarnings(t *testing.T) {
	// Malformed-but-present DEA number warns, does not block.
	result, err := ValidateDispensing(ScheduleIII, daysAgo(10), 1, false, "ZZ9999999", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("malformed DEA should warn, not block: %v", result.Errors)
	}
	if !hasReason(result.Warnings, "checksum") {
		t.Errorf("expected a DEA warning, got %v", result.Warnings)
	}

	// Absent DEA blocks.
	result, _ = ValidateDispensing(ScheduleIII, daysAgo(10), 1, false, "", testNow)
	if result.Valid {
		t.Fatal("missing prescriber DEA must block")
	}
}

func TestValidateDispensingScheduleIIAlwaysWarnsEPCS(t *testing.T) {
	result, err := ValidateDispensing(ScheduleII, daysAgo(5), 0, false, testDEA, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, got %v", result.Errors)
	}
	if !hasReason(result.Warnings, "EPCS") {
		t.Errorf("expected EPCS reminder warning, got %v", result.Warnings)
	}
}

func TestValidateDispensingPartialFill(t *testing.T) {
	// Schedule II partial fills are allowed with a 72-hour warning.
	result, err := ValidateDispensing(ScheduleII, daysAgo(5), 0, true, testDEA, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("Schedule II partial fill should pass, got %v", result.Errors)
	}
	if !hasReason(result.Warnings, "72 hours") {
		t.Errorf("expected 72-hour completion warning, got %v", result.Warnings)
	}
}

func TestValidateDispensingMalformedInput(t *testing.T) {
	if _, err := ValidateDispensing(ScheduleII, time.Time{}, 0, false, testDEA, testNow); err == nil {
		t.Error("zero prescription date must be a hard error")
	}
	if _, err := ValidateDispensing(ScheduleII, daysAgo(5), -1, false, testDEA, testNow); err == nil {
		t.Error("negative refill number must be a hard error")
	}
	if _, err := ValidateDispensing(ScheduleII, testNow.AddDate(0, 0, 2), 0, false, testDEA, testNow); err == nil {
		t.Error("future prescription date must be a hard error")
	}
	if _, err := ValidateDispensing(Schedule("VI"), daysAgo(5), 0, false, testDEA, testNow); err == nil {
		t.Error("unknown schedule must be a hard error")
	}
}

func hasReason(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
