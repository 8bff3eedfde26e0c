package prescription

import (
	"testing"
	"time"

	"github.com/meridianrx/dispense/internal/compliance"
)

func TestCanTransitionMainLine(t *testing.T) {
	path := []State{
		StateIntake, StateDataEntry, StateDataEntryComplete,
		StateInsurancePending, StateFilling, StateVerification,
		StateReady, StateSold,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("main line %s -> %s must be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransitionHoldStates(t *testing.T) {
	legal := [][2]State{
		{StateInsurancePending, StateInsuranceRejected},
		{StateInsurancePending, StateDURReview},
		{StateInsurancePending, StatePriorAuthPending},
		{StateInsuranceRejected, StateInsurancePending},
		{StateDURReview, StateFilling},
		{StatePriorAuthPending, StatePriorAuthApproved},
		{StatePriorAuthPending, StateInsuranceRejected},
		{StatePriorAuthApproved, StateFilling},
		{StateVerification, StateFilling}, // verification failure re-fills
	}
	for _, pair := range legal {
		if !CanTransition(pair[0], pair[1]) {
			t.Errorf("%s -> %s must be legal", pair[0], pair[1])
		}
	}

	illegal := [][2]State{
		{StateIntake, StateFilling},
		{StateIntake, StateSold},
		{StateDataEntry, StateReady},
		{StateFilling, StateSold},
		{StateSold, StateReady},
		{StateReady, StateIntake},
		{StateSold, StateDelivered},
	}
	for _, pair := range illegal {
		if CanTransition(pair[0], pair[1]) {
			t.Errorf("%s -> %s must be illegal", pair[0], pair[1])
		}
	}
}

func TestCanTransitionCancellation(t *testing.T) {
	// Cancellable anywhere before the sale completes, never after.
	for _, s := range []State{
		StateIntake, StateDataEntry, StateDataEntryComplete,
		StateInsurancePending, StateInsuranceRejected, StateDURReview,
		StatePriorAuthPending, StatePriorAuthApproved, StateFilling,
		StateVerification, StateReady,
	} {
		if !CanTransition(s, StateCancelled) {
			t.Errorf("%s must be cancellable", s)
		}
	}
	for _, s := range []State{StateSold, StateDelivered, StateReturnedToStock, StateCancelled} {
		if CanTransition(s, StateCancelled) {
			t.Errorf("terminal state %s must not be cancellable", s)
		}
	}
}

func TestTerminalStatesHaveNoSuccessors(t *testing.T) {
	for _, s := range []State{StateSold, StateDelivered, StateReturnedToStock, StateCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
		if next := Successors(s); len(next) != 0 {
			t.Errorf("terminal state %s has successors %v", s, next)
		}
	}
}

func TestPrescriptionValidate(t *testing.T) {
	now := time.Now().UTC()
	p := New("rx-1", "PH001", "pat-1", "doc-1", now)
	p.NDC = "00093-0058-01"
	p.Schedule = compliance.ScheduleII
	p.Quantity = 30
	p.RefillsAllowed = 0

	if err := p.Validate(); err != nil {
		t.Fatalf("valid prescription rejected: %v", err)
	}

	p.RefillsAllowed = 1
	if err := p.Validate(); err == nil {
		t.Error("Schedule II with refills must fail validation")
	}

	p.Schedule = compliance.ScheduleIII
	p.RefillsAllowed = 2
	p.RefillsUsed = 3
	if err := p.Validate(); err == nil {
		t.Error("refills used beyond allowed must fail validation")
	}

	p.RefillsUsed = 1
	p.RefillsAllowed = 9
	if err := p.Validate(); err == nil {
		t.Error("refills beyond the Schedule III maximum must fail validation")
	}
}

func TestRecordDispensedAccounting(t *testing.T) {
	now := time.Now().UTC()
	p := New("rx-1", "PH001", "pat-1", "doc-1", now)
	p.Quantity = 30

	if err := p.RecordDispensed(10); err != nil {
		t.Fatalf("RecordDispensed: %v", err)
	}
	if got := p.RemainingQuantity(); got != 20 {
		t.Errorf("remaining = %v, want 20", got)
	}
	if err := p.RecordDispensed(25); err == nil {
		t.Error("dispensing beyond the remaining quantity must fail")
	}
	if err := p.RecordDispensed(20); err != nil {
		t.Fatalf("RecordDispensed remainder: %v", err)
	}
	if got := p.RemainingQuantity(); got != 0 {
		t.Errorf("remaining = %v, want 0", got)
	}
	if err := p.RecordDispensed(1); err == nil {
		t.Error("dispensing against an exhausted fill must fail")
	}
}

func TestSetStateRecordsTimestamps(t *testing.T) {
	now := time.Now().UTC()
	p := New("rx-1", "PH001", "pat-1", "doc-1", now)

	later := now.Add(time.Hour)
	p.SetState(StateDataEntry, later)

	if p.State != StateDataEntry {
		t.Errorf("state = %s, want DATA_ENTRY", p.State)
	}
	if got, ok := p.StateTimes[StateDataEntry]; !ok || !got.Equal(later) {
		t.Errorf("state time not recorded: %v", p.StateTimes)
	}
}

func TestArchiveRequiresTerminalState(t *testing.T) {
	now := time.Now().UTC()
	p := New("rx-1", "PH001", "pat-1", "doc-1", now)

	if err := p.Archive(now); err == nil {
		t.Error("archiving a live prescription must fail")
	}

	p.SetState(StateCancelled, now)
	if err := p.Archive(now); err != nil {
		t.Errorf("archiving a cancelled prescription failed: %v", err)
	}
	if p.ArchivedAt == nil {
		t.Error("expected archived timestamp")
	}
}
