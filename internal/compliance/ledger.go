// Package compliance: perpetual-inventory ledger arithmetic.
//
// The ledger is append-only: entries are never updated or deleted, and a
// correction is always a new entry. The running balance carried on each
// entry is a pure function of that entry's inputs, so the stored sequence
// can be re-derived by folding the signed deltas at any time.
package compliance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a perpetual-inventory movement.
type TransactionType string

const (
	TxReceive             TransactionType = "receive"
	TxDispense            TransactionType = "dispense"
	TxReturnToStock       TransactionType = "return_to_stock"
	TxDestruction         TransactionType = "destruction"
	TxTheftLoss           TransactionType = "theft_loss"
	TxAdjustment          TransactionType = "adjustment"
	TxTransferIn          TransactionType = "transfer_in"
	TxTransferOut         TransactionType = "transfer_out"
	TxReverseDistribution TransactionType = "reverse_distribution"
)

// LedgerEntry is an immutable perpetual-inventory record.
type LedgerEntry struct {
	ID             string          `json:"id"`
	PharmacyID     string          `json:"pharmacy_id"`
	NDC            string          `json:"ndc"`
	Schedule       Schedule        `json:"schedule"`
	Type           TransactionType `json:"type"`
	Quantity       float64         `json:"quantity"`
	BalanceBefore  float64         `json:"balance_before"`
	RunningBalance float64         `json:"running_balance"`
	Actor          string          `json:"actor"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// SignedDelta returns the balance change a transaction applies. Adjustments
// interpret quantity as the observed new count, so the delta is whatever
// brings the balance to that count.
func SignedDelta(txType TransactionType, quantity, currentBalance float64) (float64, error) {
	switch txType {
	case TxReceive, TxReturnToStock, TxTransferIn:
		return quantity, nil
	case TxDispense, TxDestruction, TxTheftLoss, TxTransferOut, TxReverseDistribution:
		return -quantity, nil
	case TxAdjustment:
		return quantity - currentBalance, nil
	default:
		return 0, fmt.Errorf("unknown transaction type %q", txType)
	}
}

// RecordTransaction computes a new ledger entry from the caller's balance
// snapshot. It is a pure function of its inputs: it never reads prior
// entries, and the resulting balance is clamped at zero so the ledger can
// never report negative stock.
func RecordTransaction(pharmacyID, ndc string, schedule Schedule, txType TransactionType, quantity, currentBalance float64, actor string, now time.Time) (LedgerEntry, error) {
	if quantity < 0 {
		return LedgerEntry{}, fmt.Errorf("quantity must be non-negative, got %v", quantity)
	}
	if pharmacyID == "" || ndc == "" {
		return LedgerEntry{}, fmt.Errorf("pharmacy and NDC are required")
	}
	if actor == "" {
		return LedgerEntry{}, fmt.Errorf("actor is required on inventory transactions")
	}

	delta, err := SignedDelta(txType, quantity, currentBalance)
	if err != nil {
		return LedgerEntry{}, err
	}

	balance := currentBalance + delta
	if balance < 0 {
		balance = 0
	}

	return LedgerEntry{
		ID:             uuid.New().String(),
		PharmacyID:     pharmacyID,
		NDC:            ndc,
		Schedule:       schedule,
		Type:           txType,
		Quantity:       quantity,
		BalanceBefore:  currentBalance,
		RunningBalance: balance,
		Actor:          actor,
		RecordedAt:     now.UTC(),
	}, nil
}

// FoldBalance replays a chronological entry sequence and returns the final
// running balance. Used by reconciliation to verify stored balances match
// the fold of their deltas.
func FoldBalance(entries []LedgerEntry) float64 {
	var balance float64
	for _, e := range entries {
		delta, err := SignedDelta(e.Type, e.Quantity, balance)
		if err != nil {
			continue
		}
		balance += delta
		if balance < 0 {
			balance = 0
		}
	}
	return balance
}
