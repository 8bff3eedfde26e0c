// Package claims: refill-eligibility date math.
package claims

import (
	"fmt"
	"math"
	"time"
)

// DefaultUtilizationPercent is the usual payer threshold: a refill becomes
// eligible once 80% of the previous fill's days supply has elapsed.
const DefaultUtilizationPercent = 80

// RefillEligibility is the outcome of the eligible-refill-date calculation.
type RefillEligibility struct {
	LastFillDate       time.Time `json:"last_fill_date"`
	DaysSupply         int       `json:"days_supply"`
	PercentageRequired int       `json:"percentage_required"`
	EligibleDate       time.Time `json:"eligible_date"`
	DaysUntilEligible  int       `json:"days_until_eligible"`
	IsEligible         bool      `json:"is_eligible"`
}

// CalculateEligibleRefillDate computes when a refill becomes payable under
// the payer's utilization percentage. The percentage is configurable per
// payer policy; pass 0 to use the default.
func CalculateEligibleRefillDate(lastFillDate time.Time, daysSupply, percentageRequired int, now time.Time) (RefillEligibility, error) {
	if lastFillDate.IsZero() {
		return RefillEligibility{}, fmt.Errorf("last fill date is required")
	}
	if lastFillDate.After(now) {
		return RefillEligibility{}, fmt.Errorf("last fill date %s is in the future", lastFillDate.Format("2006-01-02"))
	}
	if daysSupply <= 0 {
		return RefillEligibility{}, fmt.Errorf("days supply must be positive, got %d", daysSupply)
	}
	if percentageRequired == 0 {
		percentageRequired = DefaultUtilizationPercent
	}
	if percentageRequired < 0 || percentageRequired > 100 {
		return RefillEligibility{}, fmt.Errorf("percentage required must be within [1,100], got %d", percentageRequired)
	}

	offsetDays := float64(daysSupply) * float64(percentageRequired) / 100
	daysSinceLastFill := now.Sub(lastFillDate).Hours() / 24

	daysUntil := int(math.Ceil(offsetDays - daysSinceLastFill))
	if daysUntil < 0 {
		daysUntil = 0
	}

	return RefillEligibility{
		LastFillDate:       lastFillDate,
		DaysSupply:         daysSupply,
		PercentageRequired: percentageRequired,
		EligibleDate:       lastFillDate.Add(time.Duration(offsetDays * 24 * float64(time.Hour))),
		DaysUntilEligible:  daysUntil,
		IsEligible:         daysUntil == 0,
	}, nil
}
