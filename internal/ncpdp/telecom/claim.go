// Package telecom provides NCPDP Telecommunication-style claim billing:
// the B1 billing request built from a prescription fill, the adjudication
// response returned by the payer switch, and the HTTP client that carries
// them.
package telecom

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction code constants.
const (
	TransactionBilling  = "B1"
	TransactionReversal = "B2"
	TransactionRebill   = "B3"
)

// Response status constants.
const (
	StatusPaid            = "P"
	StatusRejected        = "R"
	StatusDuplicateOfPaid = "D"
)

// ClaimRequest is a billing transaction submitted to the payer.
type ClaimRequest struct {
	TransactionCode   string    `json:"transaction_code"`
	TransactionID     string    `json:"transaction_id"`
	BIN               string    `json:"bin,omitempty"`
	PCN               string    `json:"pcn,omitempty"`
	GroupID           string    `json:"group_id,omitempty"`
	CardholderID      string    `json:"cardholder_id"`
	PharmacyNCPDPID   string    `json:"pharmacy_ncpdp_id"`
	PrescriptionRef   string    `json:"prescription_ref"`
	NDC               string    `json:"ndc"`
	QuantityDispensed float64   `json:"quantity_dispensed"`
	DaysSupply        int       `json:"days_supply"`
	FillNumber        int       `json:"fill_number"`
	PrescriberID      string    `json:"prescriber_id"`
	DateOfService     time.Time `json:"date_of_service"`
	// SubmissionClarification carries override codes applied by staff.
	SubmissionClarification []string `json:"submission_clarification,omitempty"`
	UsualAndCustomary       float64  `json:"usual_and_customary,omitempty"`
}

// ClaimResponse is the payer's adjudication of a billing transaction.
type ClaimResponse struct {
	TransactionID     string   `json:"transaction_id"`
	Status            string   `json:"status"`
	AuthorizationNum  string   `json:"authorization_num,omitempty"`
	PatientPayAmount  *float64 `json:"patient_pay_amount,omitempty"`
	TotalPaidAmount   *float64 `json:"total_paid_amount,omitempty"`
	RejectCodes       []string `json:"reject_codes,omitempty"`
	RejectMessages    []string `json:"reject_messages,omitempty"`
	DURResponseCodes  []string `json:"dur_response_codes,omitempty"`
	AdditionalMessage string   `json:"additional_message,omitempty"`
}

// NewBillingRequest builds a B1 billing request for a fill.
func NewBillingRequest(pharmacyNCPDPID, prescriptionRef, ndc, cardholderID, prescriberID string, quantity float64, daysSupply, fillNumber int, serviceDate time.Time) (*ClaimRequest, error) {
	if pharmacyNCPDPID == "" || prescriptionRef == "" {
		return nil, fmt.Errorf("pharmacy and prescription references are required")
	}
	if ndc == "" {
		return nil, fmt.Errorf("NDC is required")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity dispensed must be positive, got %v", quantity)
	}
	if daysSupply <= 0 {
		return nil, fmt.Errorf("days supply must be positive, got %d", daysSupply)
	}
	if fillNumber < 0 {
		return nil, fmt.Errorf("fill number must be non-negative, got %d", fillNumber)
	}

	return &ClaimRequest{
		TransactionCode:   TransactionBilling,
		TransactionID:     uuid.New().String(),
		CardholderID:      cardholderID,
		PharmacyNCPDPID:   pharmacyNCPDPID,
		PrescriptionRef:   prescriptionRef,
		NDC:               ndc,
		QuantityDispensed: quantity,
		DaysSupply:        daysSupply,
		FillNumber:        fillNumber,
		PrescriberID:      prescriberID,
		DateOfService:     serviceDate.UTC(),
	}, nil
}

// NewReversalRequest builds a B2 reversal referencing a prior billing.
func NewReversalRequest(original *ClaimRequest) (*ClaimRequest, error) {
	if original == nil || original.TransactionCode != TransactionBilling {
		return nil, fmt.Errorf("reversal requires an original billing transaction")
	}
	reversal := *original
	reversal.TransactionCode = TransactionReversal
	reversal.TransactionID = uuid.New().String()
	return &reversal, nil
}

// WithOverrides attaches submission clarification codes to a request.
func (r *ClaimRequest) WithOverrides(codes ...string) *ClaimRequest {
	r.SubmissionClarification = append(r.SubmissionClarification, codes...)
	return r
}

// IsRejected reports whether the response is a rejection.
func (r *ClaimResponse) IsRejected() bool {
	return r.Status == StatusRejected
}

// PrimaryRejectCode returns the first reject code, or empty when paid.
func (r *ClaimResponse) PrimaryRejectCode() string {
	if len(r.RejectCodes) == 0 {
		return ""
	}
	return r.RejectCodes[0]
}
