// Package claims: cash pricing and insurance-vs-cash comparison.
package claims

import (
	"fmt"
	"math"
)

// DefaultMarkupPercent is the standard cash markup over acquisition cost.
const DefaultMarkupPercent = 20

// CashPrice is the outcome of a cash-price calculation.
type CashPrice struct {
	AcquisitionCost float64 `json:"acquisition_cost"`
	DispensingFee   float64 `json:"dispensing_fee"`
	MarkupPercent   float64 `json:"markup_percent"`
	Calculated      float64 `json:"calculated"`
	Final           float64 `json:"final"`
}

// CalculateCashPrice computes the cash price: acquisition cost plus markup
// plus dispensing fee, rounded to cents, floored at the minimum price when
// one is set. Pass markupPercent 0 for the default; pass a nil minimum when
// no floor applies. The rounding here is asserted by downstream register
// behavior; do not change it.
func CalculateCashPrice(acquisitionCost, dispensingFee, markupPercent float64, minimumPrice *float64) (CashPrice, error) {
	if acquisitionCost < 0 {
		return CashPrice{}, fmt.Errorf("acquisition cost must be non-negative, got %v", acquisitionCost)
	}
	if dispensingFee < 0 {
		return CashPrice{}, fmt.Errorf("dispensing fee must be non-negative, got %v", dispensingFee)
	}
	if markupPercent == 0 {
		markupPercent = DefaultMarkupPercent
	}
	if markupPercent < 0 {
		return CashPrice{}, fmt.Errorf("markup percent must be non-negative, got %v", markupPercent)
	}

	calculated := roundCents(acquisitionCost + acquisitionCost*markupPercent/100 + dispensingFee)

	final := calculated
	if minimumPrice != nil && *minimumPrice > final {
		final = roundCents(*minimumPrice)
	}

	return CashPrice{
		AcquisitionCost: acquisitionCost,
		DispensingFee:   dispensingFee,
		MarkupPercent:   markupPercent,
		Calculated:      calculated,
		Final:           final,
	}, nil
}

// PricingComparison is the outcome of comparing insurance and cash options.
type PricingComparison struct {
	InsurancePatientPay *float64 `json:"insurance_patient_pay,omitempty"`
	CashPrice           float64  `json:"cash_price"`
	RecommendCash       bool     `json:"recommend_cash"`
	Savings             float64  `json:"savings"`
	Recommendation      string   `json:"recommendation"`
}

// ComparePricingOptions recommends the strictly cheaper of the insurance
// copay and the cash price. A missing insurance option always recommends
// cash. Equal prices recommend neither side: the tie is reported explicitly
// rather than silently defaulting to one option.
func ComparePricingOptions(insurancePatientPay *float64, cashPrice float64) (PricingComparison, error) {
	if cashPrice < 0 {
		return PricingComparison{}, fmt.Errorf("cash price must be non-negative, got %v", cashPrice)
	}
	if insurancePatientPay != nil && *insurancePatientPay < 0 {
		return PricingComparison{}, fmt.Errorf("insurance patient pay must be non-negative, got %v", *insurancePatientPay)
	}

	comp := PricingComparison{
		InsurancePatientPay: insurancePatientPay,
		CashPrice:           cashPrice,
	}

	if insurancePatientPay == nil {
		comp.RecommendCash = true
		comp.Recommendation = fmt.Sprintf("no insurance option; cash price $%.2f", cashPrice)
		return comp, nil
	}

	switch {
	case cashPrice < *insurancePatientPay:
		comp.RecommendCash = true
		comp.Savings = roundCents(*insurancePatientPay - cashPrice)
		comp.Recommendation = fmt.Sprintf("cash saves $%.2f over the insurance copay", comp.Savings)
	case *insurancePatientPay < cashPrice:
		comp.Savings = roundCents(cashPrice - *insurancePatientPay)
		comp.Recommendation = fmt.Sprintf("insurance saves $%.2f over the cash price", comp.Savings)
	default:
		comp.Savings = 0
		comp.Recommendation = "prices are equal; no savings either way"
	}

	return comp, nil
}

// roundCents rounds half away from zero to two decimal places.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
