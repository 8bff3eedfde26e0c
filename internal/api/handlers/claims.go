package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/claims"
)

// ClaimsHandler exposes the adjudication rule engine: reject-code
// resolution, refill timing, cash pricing, and prior-auth checks. Every
// endpoint is a pure query.
type ClaimsHandler struct {
	logger *zap.Logger
}

// NewClaimsHandler creates a new handler
func NewClaimsHandler(logger *zap.Logger) *ClaimsHandler {
	return &ClaimsHandler{logger: logger}
}

// Routes returns the handler routes
func (h *ClaimsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/reject-codes/{code}", h.RejectCode)
	r.Post("/refill-eligibility", h.RefillEligibility)
	r.Post("/pricing/cash", h.CashPrice)
	r.Post("/pricing/compare", h.ComparePricing)
	r.Post("/prior-auth/check", h.CheckPriorAuth)
	return r
}

// RejectCode handles GET /claims/reject-codes/{code}
func (h *ClaimsHandler) RejectCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	resolution := claims.ResolveRejectCode(code)
	if resolution == nil {
		jsonError(w, "unknown reject code "+code, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

// RefillRequest asks when a refill becomes payable
type RefillRequest struct {
	LastFillDate       string `json:"last_fill_date"`
	DaysSupply         int    `json:"days_supply"`
	PercentageRequired int    `json:"percentage_required,omitempty"`
}

// RefillEligibility handles POST /claims/refill-eligibility
func (h *ClaimsHandler) RefillEligibility(w http.ResponseWriter, r *http.Request) {
	var req RefillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	lastFill, err := time.Parse("2006-01-02", req.LastFillDate)
	if err != nil {
		jsonError(w, "last_fill_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	eligibility, err := claims.CalculateEligibleRefillDate(lastFill, req.DaysSupply, req.PercentageRequired, time.Now())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

// CashPriceRequest prices a cash sale
type CashPriceRequest struct {
	AcquisitionCost float64  `json:"acquisition_cost"`
	DispensingFee   float64  `json:"dispensing_fee"`
	MarkupPercent   float64  `json:"markup_percent,omitempty"`
	MinimumPrice    *float64 `json:"minimum_price,omitempty"`
}

// CashPrice handles POST /claims/pricing/cash
func (h *ClaimsHandler) CashPrice(w http.ResponseWriter, r *http.Request) {
	var req CashPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	price, err := claims.CalculateCashPrice(req.AcquisitionCost, req.DispensingFee, req.MarkupPercent, req.MinimumPrice)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

// CompareRequest weighs insurance against the cash price
type CompareRequest struct {
	InsurancePatientPay *float64 `json:"insurance_patient_pay,omitempty"`
	CashPrice           float64  `json:"cash_price"`
}

// ComparePricing handles POST /claims/pricing/compare
func (h *ClaimsHandler) ComparePricing(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	comparison, err := claims.ComparePricingOptions(req.InsurancePatientPay, req.CashPrice)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

// PriorAuthRequest checks a PA determination against the clock
type PriorAuthRequest struct {
	PriorAuthorization claims.PriorAuthorization `json:"prior_authorization"`
}

// CheckPriorAuth handles POST /claims/prior-auth/check
func (h *ClaimsHandler) CheckPriorAuth(w http.ResponseWriter, r *http.Request) {
	var req PriorAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	now := time.Now()
	resp := map[string]interface{}{
		"valid": claims.IsPriorAuthValid(req.PriorAuthorization, now),
	}
	if days := claims.DaysUntilPAExpiration(req.PriorAuthorization, now); days != nil {
		resp["days_until_expiration"] = *days
	}
	writeJSON(w, http.StatusOK, resp)
}
