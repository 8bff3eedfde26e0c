// Package prescription implements the prescription entity and its workflow
// state machine. Transition legality is decided in exactly one place,
// the successor table below; callers never test states individually.
package prescription

// State is the workflow state of a prescription.
type State string

const (
	StateIntake            State = "INTAKE"
	StateDataEntry         State = "DATA_ENTRY"
	StateDataEntryComplete State = "DATA_ENTRY_COMPLETE"
	StateInsurancePending  State = "INSURANCE_PENDING"
	StateInsuranceRejected State = "INSURANCE_REJECTED"
	StateDURReview         State = "DUR_REVIEW"
	StatePriorAuthPending  State = "PRIOR_AUTH_PENDING"
	StatePriorAuthApproved State = "PRIOR_AUTH_APPROVED"
	StateFilling           State = "FILLING"
	StateVerification      State = "VERIFICATION"
	StateReady             State = "READY"
	StateSold              State = "SOLD"
	StateDelivered         State = "DELIVERED"
	StateReturnedToStock   State = "RETURNED_TO_STOCK"
	StateCancelled         State = "CANCELLED"
)

// successors is the single source of truth for transition legality.
// Hold states (insurance rejected, DUR review, prior auth) route back into
// the main line once resolved. CANCELLED is handled separately: it is
// reachable from every state before the sale completes.
var successors = map[State][]State{
	StateIntake:            {StateDataEntry},
	StateDataEntry:         {StateDataEntryComplete},
	StateDataEntryComplete: {StateInsurancePending, StateFilling},
	StateInsurancePending:  {StateInsuranceRejected, StateDURReview, StatePriorAuthPending, StateFilling},
	StateInsuranceRejected: {StateInsurancePending, StateFilling},
	StateDURReview:         {StateFilling, StateInsurancePending},
	StatePriorAuthPending:  {StatePriorAuthApproved, StateInsuranceRejected},
	StatePriorAuthApproved: {StateFilling},
	StateFilling:           {StateVerification},
	StateVerification:      {StateReady, StateFilling},
	StateReady:             {StateSold, StateDelivered, StateReturnedToStock},
	StateSold:              {},
	StateDelivered:         {},
	StateReturnedToStock:   {},
	StateCancelled:         {},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	if to == StateCancelled {
		return !from.IsTerminal()
	}
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns the permitted next states, cancellation included.
func Successors(from State) []State {
	next := make([]State, 0, len(successors[from])+1)
	next = append(next, successors[from]...)
	if !from.IsTerminal() {
		next = append(next, StateCancelled)
	}
	return next
}

// IsTerminal reports whether the state ends the workflow. Terminal
// prescriptions are archived, never deleted; retention is decided by the
// external retention collaborator.
func (s State) IsTerminal() bool {
	switch s {
	case StateSold, StateDelivered, StateReturnedToStock, StateCancelled:
		return true
	}
	return false
}

// IsValid reports whether the state is a known tag.
func (s State) IsValid() bool {
	_, ok := successors[s]
	return ok
}

// RequiresComplianceCheck reports whether entering the state gates through
// the controlled-substance engine for scheduled drugs.
func (s State) RequiresComplianceCheck() bool {
	return s == StateFilling
}

// DecrementsInventory reports whether entering the state consumes stock and
// therefore appends a perpetual-inventory entry for controlled drugs.
func (s State) DecrementsInventory() bool {
	return s == StateSold || s == StateDelivered
}
