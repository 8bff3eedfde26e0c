package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/compliance"
	"github.com/meridianrx/dispense/internal/domain/prescription"
	"github.com/meridianrx/dispense/internal/ncpdp/telecom"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu            sync.Mutex
	prescriptions map[string]*prescription.Prescription
	ledger        []*compliance.LedgerEntry
	bins          map[string]*prescription.WillCallBin
	events        []*prescription.Event
	balances      map[string]float64

	conflictOnCommit bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		prescriptions: make(map[string]*prescription.Prescription),
		bins:          make(map[string]*prescription.WillCallBin),
		balances:      make(map[string]float64),
	}
}

func (s *fakeStore) GetPrescription(_ context.Context, id string) (*prescription.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, fmt.Errorf("prescription %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) CreatePrescription(_ context.Context, p *prescription.Prescription, events []*prescription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.prescriptions[p.ID] = &cp
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) CommitTransition(_ context.Context, p *prescription.Prescription, expectedVersion int, entry *compliance.LedgerEntry, bin *prescription.WillCallBin, events []*prescription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictOnCommit {
		return fmt.Errorf("commit: %w", ErrConflict)
	}
	current, ok := s.prescriptions[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("version %d != %d: %w", current.Version, expectedVersion, ErrConflict)
	}
	cp := *p
	s.prescriptions[p.ID] = &cp
	if entry != nil {
		s.ledger = append(s.ledger, entry)
		s.balances[entry.PharmacyID+":"+entry.NDC] = entry.RunningBalance
	}
	if bin != nil {
		bcp := *bin
		s.bins[bin.PrescriptionID] = &bcp
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) LedgerBalance(_ context.Context, pharmacyID, ndc string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[pharmacyID+":"+ndc], nil
}

func (s *fakeStore) AppendLedgerEntry(_ context.Context, entry *compliance.LedgerEntry, events []*prescription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, entry)
	s.balances[entry.PharmacyID+":"+entry.NDC] = entry.RunningBalance
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) GetBin(_ context.Context, prescriptionID string) (*prescription.WillCallBin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bin, ok := s.bins[prescriptionID]
	if !ok {
		return nil, fmt.Errorf("bin %s: %w", prescriptionID, ErrNotFound)
	}
	cp := *bin
	return &cp, nil
}

func (s *fakeStore) SaveBin(_ context.Context, bin *prescription.WillCallBin, events []*prescription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *bin
	s.bins[bin.PrescriptionID] = &cp
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) ListOpenBins(_ context.Context, _ string) ([]*prescription.WillCallBin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*prescription.WillCallBin
	for _, bin := range s.bins {
		if bin.State == prescription.BinReady || bin.State == prescription.BinNotified {
			cp := *bin
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkArchived(_ context.Context, p *prescription.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.prescriptions[p.ID] = &cp
	return nil
}

func (s *fakeStore) eventTypes() []prescription.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]prescription.EventType, len(s.events))
	for i, ev := range s.events {
		types[i] = ev.EventType
	}
	return types
}

type fakeSubmitter struct {
	response *telecom.ClaimResponse
	err      error
	requests []*telecom.ClaimRequest
}

func (f *fakeSubmitter) Submit(_ context.Context, req *telecom.ClaimRequest) (*telecom.ClaimResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &telecom.ClaimResponse{Status: telecom.StatusPaid}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
	err     error
}

func (f *fakeAudit) Log(_ context.Context, action, _, _, _ string, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return f.err
}

type fakeRetention struct {
	allow bool
	err   error
}

func (f *fakeRetention) CanArchive(_ context.Context, _, _ string) (bool, error) {
	return f.allow, f.err
}

func newTestEngine(store *fakeStore, submitter ClaimSubmitter) *Engine {
	e := New(store, submitter, &fakeAudit{}, &fakeRetention{allow: true}, DefaultConfig(), zap.NewNop(), nil)
	e.now = func() time.Time { return testNow }
	return e
}

func seedPrescription(store *fakeStore, state prescription.State, schedule compliance.Schedule) *prescription.Prescription {
	p := prescription.New("rx-1", "ph-1", "pt-1", "dr-1", testNow.AddDate(0, 0, -3))
	p.NDC = "00071-0155-23"
	p.DrugName = "test drug"
	p.Schedule = schedule
	p.Quantity = 30
	p.DaysSupply = 30
	p.PrescriberDEA = "AB1234563"
	p.WrittenDate = testNow.AddDate(0, 0, -3)
	p.State = state
	store.prescriptions[p.ID] = p
	return p
}

func TestIntakeCreatesPrescription(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)

	p := prescription.New("rx-9", "ph-1", "pt-1", "dr-1", testNow)
	p.NDC = "00071-0155-23"
	p.Quantity = 30
	p.WrittenDate = testNow

	if err := e.Intake(context.Background(), p, "tech-1"); err != nil {
		t.Fatalf("Intake: %v", err)
	}
	stored, err := store.GetPrescription(context.Background(), "rx-9")
	if err != nil {
		t.Fatalf("GetPrescription: %v", err)
	}
	if stored.State != prescription.StateIntake {
		t.Errorf("state = %s, want INTAKE", stored.State)
	}
	if got := store.eventTypes(); len(got) != 1 || got[0] != prescription.EventCreated {
		t.Errorf("events = %v, want [PrescriptionCreated]", got)
	}
}

func TestIntakeRejectsInvalid(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)

	p := prescription.New("rx-9", "ph-1", "pt-1", "dr-1", testNow)
	p.Schedule = compliance.ScheduleII
	p.RefillsAllowed = 2

	err := e.Intake(context.Background(), p, "tech-1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAdvanceHappyPath(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateIntake, compliance.ScheduleOTC)

	tr, err := e.Advance(context.Background(), "rx-1", prescription.StateDataEntry, "tech-1", AdvanceOptions{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if tr.From != prescription.StateIntake || tr.To != prescription.StateDataEntry {
		t.Errorf("transition = %s -> %s", tr.From, tr.To)
	}
	stored, _ := store.GetPrescription(context.Background(), "rx-1")
	if stored.State != prescription.StateDataEntry {
		t.Errorf("state = %s, want DATA_ENTRY", stored.State)
	}
	if stored.Version != 1 {
		t.Errorf("version = %d, want 1", stored.Version)
	}
}

func TestAdvanceIllegalTransition(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateIntake, compliance.ScheduleOTC)

	_, err := e.Advance(context.Background(), "rx-1", prescription.StateSold, "tech-1", AdvanceOptions{})
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if terr.From != prescription.StateIntake || terr.To != prescription.StateSold {
		t.Errorf("error carries %s -> %s", terr.From, terr.To)
	}
}

func TestAdvanceUnknownTarget(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateIntake, compliance.ScheduleOTC)

	_, err := e.Advance(context.Background(), "rx-1", prescription.State("LIMBO"), "tech-1", AdvanceOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAdvanceComplianceBlocksScheduleOne(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	p := seedPrescription(store, prescription.StateDataEntryComplete, compliance.ScheduleI)

	_, err := e.Advance(context.Background(), p.ID, prescription.StateFilling, "rph-1", AdvanceOptions{})
	var cerr *ComplianceError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ComplianceError", err)
	}
	if len(cerr.Result.Errors) == 0 {
		t.Error("compliance error carries no reasons")
	}

	stored, _ := store.GetPrescription(context.Background(), p.ID)
	if stored.State != prescription.StateDataEntryComplete {
		t.Errorf("state moved to %s on a blocked transition", stored.State)
	}
}

func TestAdvanceComplianceOverrideCannotClearScheduleOne(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	p := seedPrescription(store, prescription.StateDataEntryComplete, compliance.ScheduleI)

	_, err := e.Advance(context.Background(), p.ID, prescription.StateFilling, "rph-1", AdvanceOptions{
		Override: &Override{Code: "RPH_JUDGMENT", Justification: "physician confirmed"},
	})
	var cerr *ComplianceError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ComplianceError despite override", err)
	}
}

func TestAdvanceComplianceOverrideClearsExpired(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	p := seedPrescription(store, prescription.StateDataEntryComplete, compliance.ScheduleIII)
	p.WrittenDate = testNow.AddDate(0, 0, -200)
	store.prescriptions[p.ID] = p

	// Blocked without an override.
	if _, err := e.Advance(context.Background(), p.ID, prescription.StateFilling, "rph-1", AdvanceOptions{}); err == nil {
		t.Fatal("expected compliance block for an expired prescription")
	}

	tr, err := e.Advance(context.Background(), p.ID, prescription.StateFilling, "rph-1", AdvanceOptions{
		Override: &Override{Code: "RPH_JUDGMENT", Justification: "prescriber reauthorized by phone"},
	})
	if err != nil {
		t.Fatalf("Advance with override: %v", err)
	}
	if tr.To != prescription.StateFilling {
		t.Errorf("to = %s, want FILLING", tr.To)
	}
	if len(tr.Warnings) == 0 {
		t.Error("override outcome carries no warnings")
	}

	var sawOverride bool
	for _, et := range store.eventTypes() {
		if et == prescription.EventOverrideApplied {
			sawOverride = true
		}
	}
	if !sawOverride {
		t.Error("no override event recorded")
	}
}

func TestAdvanceClaimPaid(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{}
	e := newTestEngine(store, submitter)
	seedPrescription(store, prescription.StateInsurancePending, compliance.ScheduleOTC)

	tr, err := e.Advance(context.Background(), "rx-1", prescription.StateFilling, "tech-1", AdvanceOptions{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if tr.To != prescription.StateFilling {
		t.Errorf("to = %s, want FILLING", tr.To)
	}
	if len(submitter.requests) != 1 {
		t.Fatalf("submitted %d claims, want 1", len(submitter.requests))
	}
	if submitter.requests[0].TransactionCode != telecom.TransactionBilling {
		t.Errorf("transaction code = %s, want B1", submitter.requests[0].TransactionCode)
	}
}

func TestAdvanceClaimRejectedKnownCode(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{response: &telecom.ClaimResponse{
		Status:         telecom.StatusRejected,
		RejectCodes:    []string{"79"},
		RejectMessages: []string{"REFILL TOO SOON"},
	}}
	e := newTestEngine(store, submitter)
	seedPrescription(store, prescription.StateInsurancePending, compliance.ScheduleOTC)

	_, err := e.Advance(context.Background(), "rx-1", prescription.StateFilling, "tech-1", AdvanceOptions{})
	var rerr *ClaimRejectedError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want ClaimRejectedError", err)
	}
	if rerr.Code != "79" {
		t.Errorf("code = %s, want 79", rerr.Code)
	}
	if rerr.Resolution == nil || !rerr.Resolution.OverrideAllowed {
		t.Error("code 79 resolution should allow overrides")
	}

	stored, _ := store.GetPrescription(context.Background(), "rx-1")
	if stored.State != prescription.StateInsuranceRejected {
		t.Errorf("state = %s, want INSURANCE_REJECTED hold", stored.State)
	}
}

func TestAdvanceClaimRejectedUnknownCode(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{response: &telecom.ClaimResponse{
		Status:      telecom.StatusRejected,
		RejectCodes: []string{"Q9"},
	}}
	e := newTestEngine(store, submitter)
	seedPrescription(store, prescription.StateInsurancePending, compliance.ScheduleOTC)

	_, err := e.Advance(context.Background(), "rx-1", prescription.StateFilling, "tech-1", AdvanceOptions{})
	var uerr *UnknownRejectCodeError
	if !errors.As(err, &uerr) {
		t.Fatalf("err = %v, want UnknownRejectCodeError", err)
	}
	if uerr.Code != "Q9" {
		t.Errorf("code = %s, want Q9", uerr.Code)
	}
}

func TestAdvanceClaimRejectionOverridden(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{response: &telecom.ClaimResponse{
		Status:      telecom.StatusRejected,
		RejectCodes: []string{"79"},
	}}
	e := newTestEngine(store, submitter)
	seedPrescription(store, prescription.StateInsurancePending, compliance.ScheduleOTC)

	tr, err := e.Advance(context.Background(), "rx-1", prescription.StateFilling, "rph-1", AdvanceOptions{
		Override: &Override{RejectCode: "79", Code: "VACATION_SUPPLY", Justification: "patient traveling abroad"},
	})
	if err != nil {
		t.Fatalf("Advance with claim override: %v", err)
	}
	if tr.To != prescription.StateFilling {
		t.Errorf("to = %s, want FILLING", tr.To)
	}
}

func TestAdvanceClaimRejectionInvalidOverrideCode(t *testing.T) {
	store := newFakeStore()
	submitter := &fakeSubmitter{response: &telecom.ClaimResponse{
		Status:      telecom.StatusRejected,
		RejectCodes: []string{"79"},
	}}
	e := newTestEngine(store, submitter)
	seedPrescription(store, prescription.StateInsurancePending, compliance.ScheduleOTC)

	_, err := e.Advance(context.Background(), "rx-1", prescription.StateFilling, "rph-1", AdvanceOptions{
		Override: &Override{RejectCode: "79", Code: "DUR_1A", Justification: "wrong code for this rejection"},
	})
	var rerr *ClaimRejectedError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want ClaimRejectedError for an invalid override code", err)
	}
}

func TestAdvanceSoldAppendsLedgerEntry(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	p := seedPrescription(store, prescription.StateReady, compliance.ScheduleII)
	store.balances[p.PharmacyID+":"+p.NDC] = 100

	tr, err := e.Advance(context.Background(), p.ID, prescription.StateSold, "rph-1", AdvanceOptions{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if tr.To != prescription.StateSold {
		t.Errorf("to = %s, want SOLD", tr.To)
	}
	if len(store.ledger) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(store.ledger))
	}
	entry := store.ledger[0]
	if entry.Type != compliance.TxDispense {
		t.Errorf("entry type = %s, want dispense", entry.Type)
	}
	if entry.RunningBalance != 70 {
		t.Errorf("running balance = %v, want 70", entry.RunningBalance)
	}
}

func TestAdvanceSoldNoLedgerForLegend(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateReady, compliance.ScheduleLegend)

	if _, err := e.Advance(context.Background(), "rx-1", prescription.StateSold, "rph-1", AdvanceOptions{}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(store.ledger) != 0 {
		t.Errorf("ledger entries = %d, want 0 for a non-controlled drug", len(store.ledger))
	}
}

func TestAdvanceVersionConflict(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateIntake, compliance.ScheduleOTC)
	store.conflictOnCommit = true

	_, err := e.Advance(context.Background(), "rx-1", prescription.StateDataEntry, "tech-1", AdvanceOptions{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestAdvanceSerializesPerPrescription(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateIntake, compliance.ScheduleOTC)

	// Drive the full legal path concurrently; every step should either
	// land or fail cleanly, never corrupt the record.
	path := []prescription.State{
		prescription.StateDataEntry,
		prescription.StateDataEntryComplete,
		prescription.StateFilling,
		prescription.StateVerification,
		prescription.StateReady,
		prescription.StateSold,
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, target := range path {
				e.Advance(context.Background(), "rx-1", target, "tech-1", AdvanceOptions{})
			}
		}()
	}
	wg.Wait()

	stored, _ := store.GetPrescription(context.Background(), "rx-1")
	if stored.State != prescription.StateSold {
		t.Errorf("state = %s, want SOLD", stored.State)
	}
}

func TestRecordInventoryTransaction(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)

	entry, err := e.RecordInventoryTransaction(context.Background(), "ph-1", "00071-0155-23",
		compliance.ScheduleII, compliance.TxReceive, 500, "rph-1")
	if err != nil {
		t.Fatalf("RecordInventoryTransaction: %v", err)
	}
	if entry.RunningBalance != 500 {
		t.Errorf("running balance = %v, want 500", entry.RunningBalance)
	}

	entry, err = e.RecordInventoryTransaction(context.Background(), "ph-1", "00071-0155-23",
		compliance.ScheduleII, compliance.TxDestruction, 50, "rph-1")
	if err != nil {
		t.Fatalf("RecordInventoryTransaction: %v", err)
	}
	if entry.RunningBalance != 450 {
		t.Errorf("running balance = %v, want 450", entry.RunningBalance)
	}
}

func TestRecordInventoryTransactionRequiresActor(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)

	_, err := e.RecordInventoryTransaction(context.Background(), "ph-1", "ndc",
		compliance.ScheduleII, compliance.TxReceive, 10, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestArchiveTerminalOnly(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateFilling, compliance.ScheduleOTC)

	err := e.Archive(context.Background(), "rx-1", "admin")
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestArchiveHonorsRetentionHold(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	e.retention = &fakeRetention{allow: false}
	seedPrescription(store, prescription.StateSold, compliance.ScheduleOTC)

	err := e.Archive(context.Background(), "rx-1", "admin")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError for a retention hold", err)
	}
}

func TestArchiveStampsRecord(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateSold, compliance.ScheduleOTC)

	if err := e.Archive(context.Background(), "rx-1", "admin"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	stored, _ := store.GetPrescription(context.Background(), "rx-1")
	if stored.ArchivedAt == nil {
		t.Error("archived prescription has no ArchivedAt stamp")
	}
}

func TestPartialFillDecrementsOnlyFillQuantity(t *testing.T) {
	store := newFakeStore()
	store.balances["ph-1:00071-0155-23"] = 100
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateReady, compliance.ScheduleII)

	_, err := e.Advance(context.Background(), "rx-1", prescription.StateSold, "rph-1", AdvanceOptions{
		PartialFill:  true,
		FillQuantity: 10,
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(store.ledger) != 1 || store.ledger[0].Quantity != 10 {
		t.Fatalf("ledger = %+v, want one entry of quantity 10", store.ledger)
	}
	if got := store.ledger[0].RunningBalance; got != 90 {
		t.Errorf("running balance = %v, want 90", got)
	}
	stored, _ := store.GetPrescription(context.Background(), "rx-1")
	if stored.QuantityDispensed != 10 {
		t.Errorf("quantity dispensed = %v, want 10", stored.QuantityDispensed)
	}
	if got := stored.RemainingQuantity(); got != 20 {
		t.Errorf("remaining quantity = %v, want 20", got)
	}
}

func TestPartialFillRejectsOverDispense(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, nil)
	seedPrescription(store, prescription.StateReady, compliance.ScheduleII)

	_, err := e.Advance(context.Background(), "rx-1", prescription.StateSold, "rph-1", AdvanceOptions{
		PartialFill:  true,
		FillQuantity: 45,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	stored, _ := store.GetPrescription(context.Background(), "rx-1")
	if stored.State != prescription.StateReady {
		t.Errorf("state = %s, want READY unchanged", stored.State)
	}
}

func TestAuditFailureNeverBlocks(t *testing.T) {
	store := newFakeStore()
	audit := &fakeAudit{err: errors.New("broker down")}
	e := New(store, nil, audit, &fakeRetention{allow: true}, DefaultConfig(), zap.NewNop(), nil)
	e.now = func() time.Time { return testNow }
	seedPrescription(store, prescription.StateIntake, compliance.ScheduleOTC)

	if _, err := e.Advance(context.Background(), "rx-1", prescription.StateDataEntry, "tech-1", AdvanceOptions{}); err != nil {
		t.Fatalf("Advance failed on a degraded audit log: %v", err)
	}
}
