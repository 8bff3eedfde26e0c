package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/compliance"
	"github.com/meridianrx/dispense/internal/workflow"
)

// ComplianceHandler exposes the controlled-substance rule engine and the
// perpetual inventory ledger.
type ComplianceHandler struct {
	engine *workflow.Engine
	ledger LedgerReader
	logger *zap.Logger
}

// LedgerReader serves read-only ledger queries.
type LedgerReader interface {
	LedgerBalance(ctx context.Context, pharmacyID, ndc string) (float64, error)
	LedgerEntries(ctx context.Context, pharmacyID, ndc string) ([]compliance.LedgerEntry, error)
}

// NewComplianceHandler creates a new handler
func NewComplianceHandler(engine *workflow.Engine, ledger LedgerReader, logger *zap.Logger) *ComplianceHandler {
	return &ComplianceHandler{
		engine: engine,
		ledger: ledger,
		logger: logger,
	}
}

// Routes returns the handler routes
func (h *ComplianceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate-dispensing", h.ValidateDispensing)
	r.Get("/dea/{number}", h.ValidateDEA)
	r.Get("/schedules", h.Schedules)
	r.Post("/variance", h.Variance)
	r.Post("/biennial", h.Biennial)
	r.Post("/theft-loss", h.TheftLoss)
	r.Post("/inventory/transactions", h.RecordTransaction)
	r.Get("/inventory/{pharmacyID}/{ndc}/ledger", h.Ledger)
	r.Get("/inventory/{pharmacyID}/{ndc}/balance", h.Balance)
	r.Get("/inventory/{pharmacyID}/{ndc}/reconcile", h.Reconcile)
	return r
}

// ValidateDispensingRequest is the rule-engine query body
type ValidateDispensingRequest struct {
	Schedule         string `json:"schedule"`
	PrescriptionDate string `json:"prescription_date"`
	RefillNumber     int    `json:"refill_number"`
	PartialFill      bool   `json:"partial_fill"`
	PrescriberDEA    string `json:"prescriber_dea,omitempty"`
}

// ValidateDispensing handles POST /compliance/validate-dispensing. This is
// a pure query; nothing is persisted.
func (h *ComplianceHandler) ValidateDispensing(w http.ResponseWriter, r *http.Request) {
	var req ValidateDispensingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	date, err := time.Parse("2006-01-02", req.PrescriptionDate)
	if err != nil {
		jsonError(w, "prescription_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	result, err := compliance.ValidateDispensing(
		compliance.Schedule(req.Schedule), date, req.RefillNumber,
		req.PartialFill, req.PrescriberDEA, time.Now(),
	)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ValidateDEA handles GET /compliance/dea/{number}
func (h *ComplianceHandler) ValidateDEA(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dea_number": number,
		"valid":      compliance.IsValidDEANumber(number),
	})
}

// Schedules handles GET /compliance/schedules
func (h *ComplianceHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	schedules := compliance.Schedules()
	rules := make([]compliance.Rules, 0, len(schedules))
	for _, s := range schedules {
		if ruleset, ok := compliance.RulesFor(s); ok {
			rules = append(rules, ruleset)
		}
	}
	writeJSON(w, http.StatusOK, rules)
}

// VarianceRequest is the cycle-count comparison body
type VarianceRequest struct {
	PhysicalCount float64 `json:"physical_count"`
	SystemCount   float64 `json:"system_count"`
}

// Variance handles POST /compliance/variance
func (h *ComplianceHandler) Variance(w http.ResponseWriter, r *http.Request) {
	var req VarianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, compliance.CalculateVariance(req.PhysicalCount, req.SystemCount))
}

// BiennialRequest asks when the next biennial inventory is due
type BiennialRequest struct {
	LastInventoryDate string `json:"last_inventory_date"`
}

// Biennial handles POST /compliance/biennial
func (h *ComplianceHandler) Biennial(w http.ResponseWriter, r *http.Request) {
	var req BiennialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", req.LastInventoryDate)
	if err != nil {
		jsonError(w, "last_inventory_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	status, err := compliance.CheckBiennialInventory(date, time.Now())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// TheftLossRequest reports a discovered theft or significant loss
type TheftLossRequest struct {
	Items        []compliance.LossItem `json:"items"`
	DiscoveredAt time.Time             `json:"discovered_at"`
}

// TheftLoss handles POST /compliance/theft-loss
func (h *ComplianceHandler) TheftLoss(w http.ResponseWriter, r *http.Request) {
	var req TheftLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	summary, err := compliance.GenerateDEA106Summary(req.Items, req.DiscoveredAt)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TransactionRequest appends a perpetual-inventory entry
type TransactionRequest struct {
	PharmacyID string  `json:"pharmacy_id"`
	NDC        string  `json:"ndc"`
	Schedule   string  `json:"schedule"`
	Type       string  `json:"type"`
	Quantity   float64 `json:"quantity"`
}

// RecordTransaction handles POST /compliance/inventory/transactions
func (h *ComplianceHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.engine.RecordInventoryTransaction(r.Context(),
		req.PharmacyID, req.NDC,
		compliance.Schedule(req.Schedule),
		compliance.TransactionType(req.Type),
		req.Quantity, actorFrom(r),
	)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Ledger handles GET /compliance/inventory/{pharmacyID}/{ndc}/ledger
func (h *ComplianceHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.LedgerEntries(r.Context(), chi.URLParam(r, "pharmacyID"), chi.URLParam(r, "ndc"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Balance handles GET /compliance/inventory/{pharmacyID}/{ndc}/balance
func (h *ComplianceHandler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.LedgerBalance(r.Context(), chi.URLParam(r, "pharmacyID"), chi.URLParam(r, "ndc"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"running_balance": balance})
}

// ReconcileResult compares the stored running balance with a replay of the
// full entry sequence.
type ReconcileResult struct {
	PharmacyID    string  `json:"pharmacy_id"`
	NDC           string  `json:"ndc"`
	Entries       int     `json:"entries"`
	StoredBalance float64 `json:"stored_balance"`
	FoldedBalance float64 `json:"folded_balance"`
	BalancesAgree bool    `json:"balances_agree"`
}

// Reconcile handles GET /compliance/inventory/{pharmacyID}/{ndc}/reconcile.
// A stored balance that disagrees with the fold of its own deltas means the
// ledger was modified out of band.
func (h *ComplianceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	pharmacyID := chi.URLParam(r, "pharmacyID")
	ndc := chi.URLParam(r, "ndc")

	entries, err := h.ledger.LedgerEntries(r.Context(), pharmacyID, ndc)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	stored, err := h.ledger.LedgerBalance(r.Context(), pharmacyID, ndc)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	result := ReconcileResult{
		PharmacyID:    pharmacyID,
		NDC:           ndc,
		Entries:       len(entries),
		StoredBalance: stored,
		FoldedBalance: compliance.FoldBalance(entries),
	}
	result.BalancesAgree = result.StoredBalance == result.FoldedBalance
	if !result.BalancesAgree {
		h.logger.Error("ledger reconciliation mismatch",
			zap.String("pharmacy_id", pharmacyID),
			zap.String("ndc", ndc),
			zap.Float64("stored", result.StoredBalance),
			zap.Float64("folded", result.FoldedBalance),
		)
	}
	writeJSON(w, http.StatusOK, result)
}

