// Package compliance: physical-count variance analysis and biennial
// inventory timing.
package compliance

import (
	"fmt"
	"math"
	"time"
)

// VarianceSeverity classifies the size of a count discrepancy.
type VarianceSeverity string

const (
	VarianceNone        VarianceSeverity = "none"
	VarianceMinor       VarianceSeverity = "minor"
	VarianceSignificant VarianceSeverity = "significant"
	VarianceCritical    VarianceSeverity = "critical"
)

// Variance is the outcome of comparing a physical count to the system count.
type Variance struct {
	PhysicalCount         float64          `json:"physical_count"`
	SystemCount           float64          `json:"system_count"`
	Variance              float64          `json:"variance"`
	VariancePercent       float64          `json:"variance_percent"`
	Severity              VarianceSeverity `json:"severity"`
	RequiresInvestigation bool             `json:"requires_investigation"`
	// DEAReportableLoss is set only for critical negative variances; overages
	// are investigated internally but never reported to the DEA as a loss.
	DEAReportableLoss bool `json:"dea_reportable_loss"`
}

// CalculateVariance compares a physical count against the ledger's running
// balance. Thresholds: minor <=1%, significant <=5% (mandatory
// investigation), critical >5% (investigation plus a DEA-reportable-loss
// flag when the variance is negative).
func CalculateVariance(physicalCount, systemCount float64) Variance {
	v := Variance{
		PhysicalCount: physicalCount,
		SystemCount:   systemCount,
		Variance:      physicalCount - systemCount,
	}

	if systemCount != 0 {
		v.VariancePercent = v.Variance / systemCount * 100
	}

	abs := math.Abs(v.VariancePercent)
	switch {
	case v.Variance == 0:
		v.Severity = VarianceNone
	case abs <= 1:
		v.Severity = VarianceMinor
	case abs <= 5:
		v.Severity = VarianceSignificant
		v.RequiresInvestigation = true
	default:
		v.Severity = VarianceCritical
		v.RequiresInvestigation = true
		v.DEAReportableLoss = v.Variance < 0
	}

	return v
}

// BiennialState indicates where a pharmacy stands against the two-year
// controlled-substance inventory requirement.
type BiennialState string

const (
	BiennialCurrent BiennialState = "current"
	BiennialDueSoon BiennialState = "due_soon"
	BiennialOverdue BiennialState = "overdue"
)

const (
	biennialIntervalDays = 730
	biennialWarningDays  = 30
)

// BiennialStatus reports the timing of the next required inventory.
type BiennialStatus struct {
	LastInventoryDate time.Time     `json:"last_inventory_date"`
	DueDate           time.Time     `json:"due_date"`
	DaysUntilDue      int           `json:"days_until_due"`
	State             BiennialState `json:"state"`
}

// CheckBiennialInventory evaluates the biennial-inventory clock. The next
// inventory is due 730 days after the last; due_soon starts 30 days out.
func CheckBiennialInventory(lastInventoryDate, now time.Time) (BiennialStatus, error) {
	if lastInventoryDate.IsZero() {
		return BiennialStatus{}, fmt.Errorf("last inventory date is required")
	}
	if lastInventoryDate.After(now) {
		return BiennialStatus{}, fmt.Errorf("last inventory date %s is in the future", lastInventoryDate.Format("2006-01-02"))
	}

	due := lastInventoryDate.AddDate(0, 0, biennialIntervalDays)
	daysUntil := int(math.Ceil(due.Sub(now).Hours() / 24))

	status := BiennialStatus{
		LastInventoryDate: lastInventoryDate,
		DueDate:           due,
		DaysUntilDue:      daysUntil,
	}

	switch {
	case now.After(due):
		status.State = BiennialOverdue
	case daysUntil <= biennialWarningDays:
		status.State = BiennialDueSoon
	default:
		status.State = BiennialCurrent
	}

	return status, nil
}

// BiennialSnapshot pairs a point-in-time physical count with the system
// count for one NDC during a biennial inventory.
type BiennialSnapshot struct {
	NDC           string    `json:"ndc"`
	Schedule      Schedule  `json:"schedule"`
	PhysicalCount float64   `json:"physical_count"`
	SystemCount   float64   `json:"system_count"`
	CountedAt     time.Time `json:"counted_at"`
	CountedBy     string    `json:"counted_by"`
}

// AnalyzeSnapshot computes the variance for a snapshot line.
func AnalyzeSnapshot(s BiennialSnapshot) Variance {
	return CalculateVariance(s.PhysicalCount, s.SystemCount)
}
