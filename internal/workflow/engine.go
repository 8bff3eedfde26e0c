// Package workflow: the orchestration engine.
package workflow

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/claims"
	"github.com/meridianrx/dispense/internal/compliance"
	"github.com/meridianrx/dispense/internal/domain/prescription"
	"github.com/meridianrx/dispense/internal/ncpdp/telecom"
	"github.com/meridianrx/dispense/internal/observability/metrics"
	"github.com/meridianrx/dispense/pkg/keylock"
)

// Store provides atomic persistence for prescriptions, the CS ledger, and
// the will-call bins. CommitTransition must persist the prescription, the
// optional ledger entry, the optional bin state, and the outbox events in
// one transaction, failing with an error wrapping ErrConflict when the
// expected version is stale. A stale-version failure must leave the bin
// unwritten so the caller can retry from the stored state.
type Store interface {
	GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error)
	CreatePrescription(ctx context.Context, p *prescription.Prescription, events []*prescription.Event) error
	CommitTransition(ctx context.Context, p *prescription.Prescription, expectedVersion int, entry *compliance.LedgerEntry, bin *prescription.WillCallBin, events []*prescription.Event) error
	LedgerBalance(ctx context.Context, pharmacyID, ndc string) (float64, error)
	AppendLedgerEntry(ctx context.Context, entry *compliance.LedgerEntry, events []*prescription.Event) error
	GetBin(ctx context.Context, prescriptionID string) (*prescription.WillCallBin, error)
	SaveBin(ctx context.Context, bin *prescription.WillCallBin, events []*prescription.Event) error
	ListOpenBins(ctx context.Context, pharmacyID string) ([]*prescription.WillCallBin, error)
	MarkArchived(ctx context.Context, p *prescription.Prescription) error
}

// ClaimSubmitter transmits a billing request to the payer switch.
type ClaimSubmitter interface {
	Submit(ctx context.Context, req *telecom.ClaimRequest) (*telecom.ClaimResponse, error)
}

// AuditLogger is the external audit collaborator. Calls are
// fire-and-forget from this core's perspective: a logging failure never
// blocks a transition, but it is surfaced as a degraded-mode alert.
type AuditLogger interface {
	Log(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error
}

// RetentionService is consulted only when a terminal prescription is a
// candidate for archival, never mid-workflow.
type RetentionService interface {
	CanArchive(ctx context.Context, resourceType, resourceID string) (bool, error)
}

// Config holds engine configuration.
type Config struct {
	// LockTimeout bounds the wait for the per-key exclusion region.
	LockTimeout time.Duration
	// BinPolicy carries the will-call thresholds.
	BinPolicy prescription.BinPolicy
	// RefillPercent is the payer utilization threshold for refill timing.
	RefillPercent int
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout:   5 * time.Second,
		BinPolicy:     prescription.DefaultBinPolicy(),
		RefillPercent: claims.DefaultUtilizationPercent,
	}
}

// Engine owns prescription lifecycle state. It is the only component with
// mutable shared state; all rule-engine calls it makes are pure.
type Engine struct {
	store     Store
	submitter ClaimSubmitter
	audit     AuditLogger
	retention RetentionService
	locks     *keylock.KeyLock
	config    Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	// now is swapped in tests.
	now func() time.Time
}

// New creates a workflow engine.
func New(store Store, submitter ClaimSubmitter, audit AuditLogger, retention RetentionService, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if cfg.BinPolicy.ReturnToStockAfterDays == 0 {
		cfg.BinPolicy = prescription.DefaultBinPolicy()
	}
	return &Engine{
		store:     store,
		submitter: submitter,
		audit:     audit,
		retention: retention,
		locks:     keylock.New(),
		config:    cfg,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("workflow-engine"),
		now:       time.Now,
	}
}

// Override documents a staff override of a claim rejection or compliance
// block. Justification is mandatory.
type Override struct {
	RejectCode    string `json:"reject_code,omitempty"`
	Code          string `json:"code"`
	Justification string `json:"justification"`
}

// AdvanceOptions carries optional transition inputs.
type AdvanceOptions struct {
	Override    *Override
	PartialFill bool
	// FillQuantity is the amount dispensed on a partial fill. Zero means
	// the full remaining quantity.
	FillQuantity  float64
	CorrelationID string
}

// Transition is the successful outcome of an Advance call.
type Transition struct {
	PrescriptionID string             `json:"prescription_id"`
	From           prescription.State `json:"from"`
	To             prescription.State `json:"to"`
	Actor          string             `json:"actor"`
	Warnings       []string           `json:"warnings,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// Intake creates a prescription in INTAKE and persists it.
func (e *Engine) Intake(ctx context.Context, p *prescription.Prescription, actor string) error {
	if actor == "" {
		return &ValidationError{Reason: "actor is required"}
	}
	if err := p.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if p.State != prescription.StateIntake {
		return &ValidationError{Reason: "new prescriptions must start in INTAKE"}
	}

	event, err := prescription.NewEvent(p.ID, prescription.EventCreated, p)
	if err != nil {
		return err
	}
	event.WithActor(actor)

	if err := e.store.CreatePrescription(ctx, p, []*prescription.Event{event}); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.PrescriptionsCreated.Inc()
	}
	e.auditLog(ctx, "prescription.intake", "prescription", p.ID, actor, map[string]interface{}{
		"ndc": p.NDC, "schedule": string(p.Schedule),
	})
	return nil
}

// Advance moves a prescription to a target state, gating through the rule
// engines. At most one transition per prescription is in flight: waiters
// queue on the per-key lock, and a wait beyond the configured timeout
// fails with a retryable conflict.
func (e *Engine) Advance(ctx context.Context, prescriptionID string, target prescription.State, actor string, opts AdvanceOptions) (*Transition, error) {
	return e.advance(ctx, prescriptionID, target, actor, opts, nil)
}

// advance is Advance plus an optional bin mutation. The bin is loaded and
// mutated under the same per-prescription lock and committed in the same
// transaction as the state change, so a version conflict rolls both back
// and a retry sees the bin in its pre-call state.
func (e *Engine) advance(ctx context.Context, prescriptionID string, target prescription.State, actor string, opts AdvanceOptions, binMutate func(*prescription.WillCallBin) error) (*Transition, error) {
	ctx, span := e.tracer.Start(ctx, "workflow_advance",
		trace.WithAttributes(
			attribute.String("prescription_id", prescriptionID),
			attribute.String("target_state", string(target)),
		))
	defer span.End()
	start := e.now()

	if actor == "" {
		return nil, &ValidationError{Reason: "actor is required"}
	}
	if !target.IsValid() {
		return nil, &ValidationError{Reason: "unknown target state " + string(target)}
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.config.LockTimeout)
	defer cancel()
	release, err := e.locks.Acquire(lockCtx, "rx:"+prescriptionID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ConflictRetries.Inc()
		}
		return nil, ErrConflict
	}
	defer release()

	p, err := e.store.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	from := p.State
	if !prescription.CanTransition(from, target) {
		if e.metrics != nil {
			e.metrics.TransitionsFailed.WithLabelValues("invalid_transition").Inc()
		}
		return nil, &InvalidTransitionError{From: from, To: target}
	}

	var warnings []string
	var events []*prescription.Event

	// Controlled-substance gate before filling.
	if target.RequiresComplianceCheck() && p.IsControlled() {
		blocked, w, evs, err := e.checkCompliance(p, target, actor, opts)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, w...)
		events = append(events, evs...)
		if blocked != nil {
			// Record the block for the audit collaborator, state unchanged.
			if commitErr := e.store.CommitTransition(ctx, p, p.Version, nil, nil, events); commitErr != nil {
				e.logger.Error("failed to record compliance block", zap.Error(commitErr))
			}
			if e.metrics != nil {
				e.metrics.ComplianceBlocks.Inc()
				e.metrics.TransitionsFailed.WithLabelValues("compliance_blocked").Inc()
			}
			span.SetAttributes(attribute.Bool("compliance_blocked", true))
			return nil, blocked
		}
	}

	// Claims adjudication on the insurance-to-filling edge.
	if from == prescription.StateInsurancePending && target == prescription.StateFilling && e.submitter != nil {
		outcome, err := e.submitClaim(ctx, p, actor, opts)
		if err != nil {
			return nil, err
		}
		events = append(events, outcome.events...)
		if outcome.rejection != nil {
			// Hold the prescription in the rejected sub-state for staff.
			holdAt := e.now()
			holdVersion := p.Version
			p.SetState(prescription.StateInsuranceRejected, holdAt)
			p.Version++
			holdEvent, evErr := prescription.NewEvent(p.ID, prescription.EventStateChanged, &prescription.StateChangedData{
				PrescriptionID: p.ID,
				FromState:      from,
				ToState:        prescription.StateInsuranceRejected,
				Actor:          actor,
				Reasons:        []string{"claim rejected"},
				TransitionedAt: holdAt,
			})
			if evErr == nil {
				holdEvent.WithActor(actor)
				holdEvent.CorrelationID = opts.CorrelationID
				events = append(events, holdEvent)
			}
			if commitErr := e.store.CommitTransition(ctx, p, holdVersion, nil, nil, events); commitErr != nil {
				e.logger.Error("failed to record claim rejection", zap.Error(commitErr))
			}
			if e.metrics != nil {
				e.metrics.Transitions.WithLabelValues(string(prescription.StateInsuranceRejected)).Inc()
			}
			span.SetAttributes(attribute.Bool("claim_rejected", true))
			return nil, outcome.rejection
		}
	}

	// Will-call transitions carry the bin along: mutate it in memory and
	// commit it with the state change below so neither lands alone.
	var bin *prescription.WillCallBin
	if binMutate != nil {
		bin, err = e.store.GetBin(ctx, prescriptionID)
		if err != nil {
			return nil, err
		}
		if err := binMutate(bin); err != nil {
			return nil, &ValidationError{Reason: err.Error()}
		}
		binEvent, evErr := prescription.NewEvent(prescriptionID, prescription.EventBinUpdated, bin)
		if evErr != nil {
			return nil, evErr
		}
		binEvent.WithActor(actor)
		events = append(events, binEvent)
	}

	now := e.now()
	expectedVersion := p.Version
	p.SetState(target, now)
	p.Version++

	stateEvent, err := prescription.NewEvent(p.ID, prescription.EventStateChanged, &prescription.StateChangedData{
		PrescriptionID: p.ID,
		FromState:      from,
		ToState:        target,
		Actor:          actor,
		Warnings:       warnings,
		TransitionedAt: now,
	})
	if err != nil {
		return nil, err
	}
	stateEvent.WithActor(actor)
	stateEvent.CorrelationID = opts.CorrelationID
	events = append(events, stateEvent)

	// Stock-consuming transitions account the dispensed quantity on the
	// record and, for controlled drugs, append a perpetual-inventory entry
	// serialized per (pharmacy, NDC) so the running balance is never
	// computed from a stale read.
	var ledgerEntry *compliance.LedgerEntry
	if target.DecrementsInventory() {
		qty := p.RemainingQuantity()
		if opts.PartialFill && opts.FillQuantity > 0 {
			qty = opts.FillQuantity
		}
		if qty > 0 {
			if err := p.RecordDispensed(qty); err != nil {
				return nil, &ValidationError{Reason: err.Error()}
			}
			if p.IsControlled() {
				entry, err := e.buildDispenseEntry(ctx, p, qty, actor, now)
				if err != nil {
					return nil, err
				}
				ledgerEntry = entry
			}
		}
	}

	if err := e.store.CommitTransition(ctx, p, expectedVersion, ledgerEntry, bin, events); err != nil {
		if errors.Is(err, ErrConflict) {
			if e.metrics != nil {
				e.metrics.ConflictRetries.Inc()
			}
			return nil, ErrConflict
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(string(target)).Inc()
		e.metrics.TransitionDuration.Observe(e.now().Sub(start).Seconds())
		if ledgerEntry != nil {
			e.metrics.LedgerAppends.WithLabelValues(string(ledgerEntry.Type)).Inc()
		}
	}

	e.logger.Info("prescription transitioned",
		zap.String("id", p.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor),
	)

	e.auditLog(ctx, "prescription.transition", "prescription", p.ID, actor, map[string]interface{}{
		"from": string(from), "to": string(target), "warnings": warnings,
	})

	return &Transition{
		PrescriptionID: p.ID,
		From:           from,
		To:             target,
		Actor:          actor,
		Warnings:       warnings,
		OccurredAt:     now,
	}, nil
}

// checkCompliance runs the controlled-substance gate. A nil ComplianceError
// means the gate passed; warnings always propagate to the operator.
func (e *Engine) checkCompliance(p *prescription.Prescription, target prescription.State, actor string, opts AdvanceOptions) (*ComplianceError, []string, []*prescription.Event, error) {
	result, err := compliance.ValidateDispensing(p.Schedule, p.WrittenDate, p.RefillsUsed, opts.PartialFill, p.PrescriberDEA, e.now())
	if err != nil {
		return nil, nil, nil, &ValidationError{Reason: err.Error()}
	}

	if result.Valid {
		return nil, result.Warnings, nil, nil
	}

	// A pharmacist override with a documented justification can clear the
	// block, but never for hard federal limits.
	if opts.Override != nil && opts.Override.Justification != "" && !e.hardBlocked(p) {
		event, err := prescription.NewEvent(p.ID, prescription.EventOverrideApplied, &prescription.OverrideAppliedData{
			PrescriptionID: p.ID,
			OverrideCode:   opts.Override.Code,
			Justification:  opts.Override.Justification,
			Actor:          actor,
			AppliedAt:      e.now(),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		event.WithActor(actor)
		if e.metrics != nil {
			e.metrics.OverridesApplied.Inc()
		}
		e.logger.Warn("compliance block overridden",
			zap.String("id", p.ID),
			zap.String("actor", actor),
			zap.Strings("errors", result.Errors),
		)
		return nil, append(result.Warnings, result.Errors...), []*prescription.Event{event}, nil
	}

	blockedEvent, err := prescription.NewEvent(p.ID, prescription.EventComplianceBlocked, &prescription.ComplianceBlockedData{
		PrescriptionID: p.ID,
		TargetState:    target,
		Errors:         result.Errors,
		Warnings:       result.Warnings,
		Actor:          actor,
		BlockedAt:      e.now(),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	blockedEvent.WithActor(actor)

	return &ComplianceError{Result: result}, result.Warnings, []*prescription.Event{blockedEvent}, nil
}

// hardBlocked reports violations no override can clear: Schedule I drugs
// and Schedule II refills.
func (e *Engine) hardBlocked(p *prescription.Prescription) bool {
	if p.Schedule == compliance.ScheduleI {
		return true
	}
	return p.Schedule == compliance.ScheduleII && p.RefillsUsed > 0
}

// claimOutcome is what a claim submission produced. rejection is non-nil
// when the payer rejected the claim and no valid override cleared it; it
// is either a *ClaimRejectedError or an *UnknownRejectCodeError.
type claimOutcome struct {
	rejection error
	events    []*prescription.Event
}

// submitClaim runs the insurance submission. The returned error covers
// transport and validation failures only; a payer rejection is reported
// through the outcome.
func (e *Engine) submitClaim(ctx context.Context, p *prescription.Prescription, actor string, opts AdvanceOptions) (claimOutcome, error) {
	req, err := telecom.NewBillingRequest(p.PharmacyID, p.ID, p.NDC, p.PatientID, p.PrescriberID, p.Quantity, p.DaysSupply, p.RefillsUsed, e.now())
	if err != nil {
		return claimOutcome{}, &ValidationError{Reason: err.Error()}
	}
	if opts.Override != nil {
		req.WithOverrides(opts.Override.Code)
	}

	resp, err := e.submitter.Submit(ctx, req)
	if err != nil {
		return claimOutcome{}, err
	}
	if !resp.IsRejected() {
		return claimOutcome{}, nil
	}

	code := resp.PrimaryRejectCode()
	if e.metrics != nil {
		e.metrics.ClaimRejects.WithLabelValues(code).Inc()
		e.metrics.TransitionsFailed.WithLabelValues("claim_rejected").Inc()
	}

	resolution := claims.ResolveRejectCode(code)

	rejectEvent, evErr := prescription.NewEvent(p.ID, prescription.EventClaimRejected, &prescription.ClaimRejectedData{
		PrescriptionID: p.ID,
		RejectCode:     code,
		KnownCode:      resolution != nil,
		Actor:          actor,
		RejectedAt:     e.now(),
	})
	if evErr != nil {
		return claimOutcome{}, evErr
	}
	rejectEvent.WithActor(actor)
	events := []*prescription.Event{rejectEvent}

	if resolution == nil {
		return claimOutcome{rejection: &UnknownRejectCodeError{Code: code}, events: events}, nil
	}

	// A valid override with justification clears the rejection.
	if opts.Override != nil &&
		opts.Override.Justification != "" &&
		claims.IsValidOverrideCode(code, opts.Override.Code) {
		overrideEvent, evErr := prescription.NewEvent(p.ID, prescription.EventOverrideApplied, &prescription.OverrideAppliedData{
			PrescriptionID: p.ID,
			RejectCode:     code,
			OverrideCode:   opts.Override.Code,
			Justification:  opts.Override.Justification,
			Actor:          actor,
			AppliedAt:      e.now(),
		})
		if evErr != nil {
			return claimOutcome{}, evErr
		}
		overrideEvent.WithActor(actor)
		if e.metrics != nil {
			e.metrics.OverridesApplied.Inc()
		}
		return claimOutcome{events: append(events, overrideEvent)}, nil
	}

	return claimOutcome{
		rejection: &ClaimRejectedError{Code: code, Messages: resp.RejectMessages, Resolution: resolution},
		events:    events,
	}, nil
}

// buildDispenseEntry computes the ledger append under the per-(pharmacy,
// NDC) exclusion region.
func (e *Engine) buildDispenseEntry(ctx context.Context, p *prescription.Prescription, quantity float64, actor string, now time.Time) (*compliance.LedgerEntry, error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.config.LockTimeout)
	defer cancel()
	release, err := e.locks.Acquire(lockCtx, "inv:"+p.PharmacyID+":"+p.NDC)
	if err != nil {
		return nil, ErrConflict
	}
	defer release()

	balance, err := e.store.LedgerBalance(ctx, p.PharmacyID, p.NDC)
	if err != nil {
		return nil, err
	}

	entry, err := compliance.RecordTransaction(p.PharmacyID, p.NDC, p.Schedule, compliance.TxDispense, quantity, balance, actor, now)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	return &entry, nil
}

// RecordInventoryTransaction appends a standalone ledger entry (receives,
// destructions, adjustments) outside any workflow transition, serialized
// per (pharmacy, NDC).
func (e *Engine) RecordInventoryTransaction(ctx context.Context, pharmacyID, ndc string, schedule compliance.Schedule, txType compliance.TransactionType, quantity float64, actor string) (*compliance.LedgerEntry, error) {
	if actor == "" {
		return nil, &ValidationError{Reason: "actor is required"}
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.config.LockTimeout)
	defer cancel()
	release, err := e.locks.Acquire(lockCtx, "inv:"+pharmacyID+":"+ndc)
	if err != nil {
		return nil, ErrConflict
	}
	defer release()

	balance, err := e.store.LedgerBalance(ctx, pharmacyID, ndc)
	if err != nil {
		return nil, err
	}

	entry, err := compliance.RecordTransaction(pharmacyID, ndc, schedule, txType, quantity, balance, actor, e.now())
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	event, err := prescription.NewEvent(entry.ID, prescription.EventBinUpdated, entry)
	if err != nil {
		return nil, err
	}
	event.WithActor(actor)

	if err := e.store.AppendLedgerEntry(ctx, &entry, []*prescription.Event{event}); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.LedgerAppends.WithLabelValues(string(txType)).Inc()
	}
	e.auditLog(ctx, "inventory.transaction", "cs_ledger", entry.ID, actor, map[string]interface{}{
		"pharmacy": pharmacyID, "ndc": ndc, "type": string(txType), "quantity": quantity,
	})
	return &entry, nil
}

// Archive stamps a terminal prescription as archived after consulting the
// retention collaborator for legal holds.
func (e *Engine) Archive(ctx context.Context, prescriptionID, actor string) error {
	p, err := e.store.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return err
	}
	if !p.State.IsTerminal() {
		return &InvalidTransitionError{From: p.State, To: "ARCHIVED"}
	}

	if e.retention != nil {
		ok, err := e.retention.CanArchive(ctx, "prescription", prescriptionID)
		if err != nil {
			return err
		}
		if !ok {
			return &ValidationError{Reason: "retention hold prevents archival"}
		}
	}

	if err := p.Archive(e.now()); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if err := e.store.MarkArchived(ctx, p); err != nil {
		return err
	}

	e.auditLog(ctx, "prescription.archive", "prescription", p.ID, actor, nil)
	return nil
}

// auditLog reports to the external audit collaborator. Failures never
// block the caller; they surface as a degraded-mode alert.
func (e *Engine) auditLog(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, action, resourceType, resourceID, actor, details); err != nil {
		if e.metrics != nil {
			e.metrics.AuditDegraded.Inc()
		}
		e.logger.Error("audit log degraded",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
	}
}
