// Package prescription: the will-call bin sub-state machine.
package prescription

import (
	"fmt"
	"time"
)

// Will-call policy thresholds. These live here, not in any UI layer, so
// every place a bin is evaluated enforces the same numbers.
const (
	// ExpiringSoonAfterDays is when an unclaimed bin starts warning.
	ExpiringSoonAfterDays = 7
	// ReturnToStockAfterDays is when an unclaimed bin must be returned.
	ReturnToStockAfterDays = 10
)

// BinState is the will-call sub-state of a READY prescription.
type BinState string

const (
	BinReady         BinState = "ready"
	BinNotified      BinState = "notified"
	BinPickedUp      BinState = "picked_up"
	BinReturnPending BinState = "return_pending"
	BinReturned      BinState = "returned"
)

// BinPolicy carries the will-call thresholds, overridable per pharmacy.
type BinPolicy struct {
	ExpiringSoonAfterDays  int
	ReturnToStockAfterDays int
}

// DefaultBinPolicy returns the standard thresholds.
func DefaultBinPolicy() BinPolicy {
	return BinPolicy{
		ExpiringSoonAfterDays:  ExpiringSoonAfterDays,
		ReturnToStockAfterDays: ReturnToStockAfterDays,
	}
}

// WillCallBin is a physical slot holding a filled prescription awaiting
// pickup.
type WillCallBin struct {
	PrescriptionID string     `json:"prescription_id"`
	Location       string     `json:"location"`
	State          BinState   `json:"state"`
	PlacedAt       time.Time  `json:"placed_at"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
	PickedUpAt     *time.Time `json:"picked_up_at,omitempty"`
	// HoldStartedAt is the day-counter origin; ExtendHold moves it forward.
	HoldStartedAt time.Time `json:"hold_started_at"`
}

// NewWillCallBin places a prescription in will-call.
func NewWillCallBin(prescriptionID, location string, now time.Time) *WillCallBin {
	return &WillCallBin{
		PrescriptionID: prescriptionID,
		Location:       location,
		State:          BinReady,
		PlacedAt:       now.UTC(),
		HoldStartedAt:  now.UTC(),
	}
}

// DaysInBin returns whole days since the hold counter started.
func (b *WillCallBin) DaysInBin(now time.Time) int {
	return int(now.Sub(b.HoldStartedAt).Hours() / 24)
}

// IsExpiringSoon reports whether the bin is inside the warning window.
func (b *WillCallBin) IsExpiringSoon(now time.Time, policy BinPolicy) bool {
	if b.State != BinReady && b.State != BinNotified {
		return false
	}
	days := b.DaysInBin(now)
	return days >= policy.ExpiringSoonAfterDays && days < policy.ReturnToStockAfterDays
}

// RequiresReturn reports whether the bin has aged past the return threshold.
func (b *WillCallBin) RequiresReturn(now time.Time, policy BinPolicy) bool {
	if b.State != BinReady && b.State != BinNotified {
		return false
	}
	return b.DaysInBin(now) >= policy.ReturnToStockAfterDays
}

// MarkNotified records that the patient was contacted.
func (b *WillCallBin) MarkNotified(now time.Time) error {
	if b.State != BinReady {
		return fmt.Errorf("cannot notify from bin state %s", b.State)
	}
	t := now.UTC()
	b.State = BinNotified
	b.NotifiedAt = &t
	return nil
}

// MarkPickedUp terminates the bin on patient pickup.
func (b *WillCallBin) MarkPickedUp(now time.Time) error {
	if b.State != BinReady && b.State != BinNotified {
		return fmt.Errorf("cannot pick up from bin state %s", b.State)
	}
	t := now.UTC()
	b.State = BinPickedUp
	b.PickedUpAt = &t
	return nil
}

// MarkReturnPending flags the bin for return to stock once aged out.
func (b *WillCallBin) MarkReturnPending(now time.Time, policy BinPolicy) error {
	if b.State != BinReady && b.State != BinNotified {
		return fmt.Errorf("cannot flag return from bin state %s", b.State)
	}
	if !b.RequiresReturn(now, policy) {
		return fmt.Errorf("bin has only aged %d days, return requires %d",
			b.DaysInBin(now), policy.ReturnToStockAfterDays)
	}
	b.State = BinReturnPending
	return nil
}

// ExtendHold resets the day counter, granting the patient more time.
func (b *WillCallBin) ExtendHold(days int, now time.Time, policy BinPolicy) error {
	if days <= 0 {
		return fmt.Errorf("extension days must be positive, got %d", days)
	}
	if b.State != BinReady && b.State != BinNotified && b.State != BinReturnPending {
		return fmt.Errorf("cannot extend hold from bin state %s", b.State)
	}
	// Restart the day counter so the bin has exactly `days` days before the
	// policy's return threshold trips again, capped at a full fresh hold.
	start := now.UTC().AddDate(0, 0, days-policy.ReturnToStockAfterDays)
	if start.After(now) {
		start = now.UTC()
	}
	b.HoldStartedAt = start
	if b.State == BinReturnPending {
		b.State = BinNotified
	}
	return nil
}

// MarkReturned terminates the bin after stock is restored.
func (b *WillCallBin) MarkReturned() error {
	if b.State != BinReturnPending {
		return fmt.Errorf("cannot return from bin state %s", b.State)
	}
	b.State = BinReturned
	return nil
}
