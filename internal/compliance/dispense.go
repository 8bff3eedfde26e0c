// Package compliance: dispensing validation for controlled substances.
package compliance

import (
	"fmt"
	"time"
)

// ValidationResult is the outcome of a dispensing validation. Errors block
// the dispense; warnings are surfaced to the operator without blocking.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Rules    Rules    `json:"rules"`
}

// ValidateDispensing checks a controlled-substance fill against the schedule
// rule table. It accumulates every violation rather than stopping at the
// first, so the operator sees the complete picture in one pass. Expected
// domain rejections come back in the result; a non-nil error means the input
// itself was malformed.
func ValidateDispensing(schedule Schedule, prescriptionDate time.Time, refillNumber int, isPartialFill bool, prescriberDEA string, now time.Time) (ValidationResult, error) {
	if prescriptionDate.IsZero() {
		return ValidationResult{}, fmt.Errorf("prescription date is required")
	}
	if refillNumber < 0 {
		return ValidationResult{}, fmt.Errorf("refill number must be non-negative, got %d", refillNumber)
	}
	if prescriptionDate.After(now) {
		return ValidationResult{}, fmt.Errorf("prescription date %s is in the future", prescriptionDate.Format("2006-01-02"))
	}

	rules, ok := RulesFor(schedule)
	if !ok {
		return ValidationResult{}, fmt.Errorf("unknown DEA schedule %q", schedule)
	}

	result := ValidationResult{Rules: rules}

	if !schedule.Dispensable() {
		result.Errors = append(result.Errors,
			"Schedule I substances have no accepted medical use and cannot be dispensed")
	}

	daysSinceWritten := int(now.Sub(prescriptionDate).Hours() / 24)
	if schedule.Dispensable() && daysSinceWritten > rules.PrescriptionValidDays {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"prescription expired: written %d days ago, valid for %d days",
			daysSinceWritten, rules.PrescriptionValidDays))
	}

	if refillNumber > rules.RefillsAllowed {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"refill %d exceeds the %d refills allowed for Schedule %s",
			refillNumber, rules.RefillsAllowed, schedule))
	}

	if schedule == ScheduleII && refillNumber > 0 {
		result.Errors = append(result.Errors,
			"Schedule II prescriptions cannot be refilled; a new prescription is required")
	}

	if isPartialFill && !rules.PartialFillAllowed {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"partial fills are not permitted for Schedule %s", schedule))
	}

	if prescriberDEA == "" {
		result.Errors = append(result.Errors,
			"prescriber DEA number is required for controlled substances")
	} else if !IsValidDEANumber(prescriberDEA) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"prescriber DEA number %q fails format or checksum validation; verify before dispensing", prescriberDEA))
	}

	if schedule == ScheduleII {
		result.Warnings = append(result.Warnings,
			"Schedule II: verify EPCS transmission or original signed hardcopy before dispensing")
		if isPartialFill {
			result.Warnings = append(result.Warnings,
				"Schedule II partial fill: remainder must be dispensed within 72 hours or the balance is void")
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}
