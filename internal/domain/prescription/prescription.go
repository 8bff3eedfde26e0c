// Package prescription: the central dispensing entity.
package prescription

import (
	"fmt"
	"time"

	"github.com/meridianrx/dispense/internal/compliance"
)

// Priority orders work in the fill queue.
type Priority string

const (
	PriorityRoutine Priority = "routine"
	PriorityUrgent  Priority = "urgent"
	PriorityWaiting Priority = "waiting" // patient is in the store
)

// Prescription is the central dispensing record. Its state is mutated
// exclusively by the workflow engine; no other writer exists.
type Prescription struct {
	ID             string              `json:"id"`
	PharmacyID     string              `json:"pharmacy_id"`
	PatientID      string              `json:"patient_id"`
	PrescriberID   string              `json:"prescriber_id"`
	PrescriberDEA  string              `json:"prescriber_dea,omitempty"`
	NDC            string              `json:"ndc"`
	DrugName       string              `json:"drug_name"`
	Schedule       compliance.Schedule `json:"schedule"`
	Quantity       float64             `json:"quantity"`
	DaysSupply     int                 `json:"days_supply"`
	RefillsAllowed int                 `json:"refills_allowed"`
	RefillsUsed    int                 `json:"refills_used"`
	Priority       Priority            `json:"priority"`
	State          State               `json:"state"`
	WrittenDate    time.Time           `json:"written_date"`
	Version        int                 `json:"version"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	// QuantityDispensed accumulates across partial fills toward Quantity.
	QuantityDispensed float64 `json:"quantity_dispensed,omitempty"`
	// StateTimes records when each state was entered, keyed by state tag.
	StateTimes map[State]time.Time `json:"state_times,omitempty"`
	ArchivedAt *time.Time          `json:"archived_at,omitempty"`
}

// New creates a prescription in INTAKE.
func New(id, pharmacyID, patientID, prescriberID string, now time.Time) *Prescription {
	return &Prescription{
		ID:           id,
		PharmacyID:   pharmacyID,
		PatientID:    patientID,
		PrescriberID: prescriberID,
		Priority:     PriorityRoutine,
		State:        StateIntake,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
		StateTimes:   map[State]time.Time{StateIntake: now.UTC()},
	}
}

// IsControlled reports whether the drug is DEA-scheduled.
func (p *Prescription) IsControlled() bool {
	return p.Schedule.IsControlled()
}

// Validate checks the record's internal invariants. Schedule II never
// carries refills, and refills used can never pass refills allowed.
func (p *Prescription) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("prescription id is required")
	}
	if p.PharmacyID == "" {
		return fmt.Errorf("pharmacy id is required")
	}
	if p.Quantity < 0 {
		return fmt.Errorf("quantity must be non-negative")
	}
	if p.RefillsUsed > p.RefillsAllowed {
		return fmt.Errorf("refills used (%d) exceeds refills allowed (%d)", p.RefillsUsed, p.RefillsAllowed)
	}
	if p.Schedule == compliance.ScheduleII && p.RefillsAllowed != 0 {
		return fmt.Errorf("Schedule II prescriptions cannot authorize refills, got %d", p.RefillsAllowed)
	}
	if p.Schedule != "" && !p.Schedule.IsValid() {
		return fmt.Errorf("unknown DEA schedule %q", p.Schedule)
	}
	if rules, ok := compliance.RulesFor(p.Schedule); ok && p.RefillsAllowed > rules.RefillsAllowed {
		return fmt.Errorf("refills allowed (%d) exceeds the Schedule %s maximum of %d",
			p.RefillsAllowed, p.Schedule, rules.RefillsAllowed)
	}
	return nil
}

// RemainingQuantity returns the undispensed balance of the current fill.
func (p *Prescription) RemainingQuantity() float64 {
	remaining := p.Quantity - p.QuantityDispensed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordDispensed accumulates a fill against the authorized quantity.
func (p *Prescription) RecordDispensed(quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("dispensed quantity must be positive, got %v", quantity)
	}
	if quantity > p.RemainingQuantity() {
		return fmt.Errorf("dispensed quantity %v exceeds remaining %v", quantity, p.RemainingQuantity())
	}
	p.QuantityDispensed += quantity
	return nil
}

// SetState moves the prescription to a new state, updating the per-state
// timestamps. Legality is the caller's responsibility (the workflow engine
// consults CanTransition first); this keeps bookkeeping in one place.
func (p *Prescription) SetState(to State, now time.Time) {
	p.State = to
	p.UpdatedAt = now.UTC()
	if p.StateTimes == nil {
		p.StateTimes = make(map[State]time.Time)
	}
	p.StateTimes[to] = now.UTC()
}

// Archive stamps a terminal prescription as archived. Deletion is owned by
// the external retention collaborator, never by this core.
func (p *Prescription) Archive(now time.Time) error {
	if !p.State.IsTerminal() {
		return fmt.Errorf("cannot archive prescription in non-terminal state %s", p.State)
	}
	t := now.UTC()
	p.ArchivedAt = &t
	return nil
}
