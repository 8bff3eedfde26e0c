package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/domain/prescription"
)

// PlaceInWillCall opens a bin for a READY prescription.
func (e *Engine) PlaceInWillCall(ctx context.Context, prescriptionID, location, actor string) (*prescription.WillCallBin, error) {
	if actor == "" {
		return nil, &ValidationError{Reason: "actor is required"}
	}
	if location == "" {
		return nil, &ValidationError{Reason: "bin location is required"}
	}

	p, err := e.store.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if p.State != prescription.StateReady {
		return nil, &InvalidTransitionError{From: p.State, To: prescription.StateReady}
	}

	bin := prescription.NewWillCallBin(prescriptionID, location, e.now())
	event, err := prescription.NewEvent(prescriptionID, prescription.EventBinUpdated, bin)
	if err != nil {
		return nil, err
	}
	event.WithActor(actor)

	if err := e.store.SaveBin(ctx, bin, []*prescription.Event{event}); err != nil {
		return nil, err
	}

	e.auditLog(ctx, "willcall.place", "will_call_bin", prescriptionID, actor, map[string]interface{}{
		"location": location,
	})
	return bin, nil
}

// NotifyPatient records a pickup reminder against the bin.
func (e *Engine) NotifyPatient(ctx context.Context, prescriptionID, actor string) error {
	return e.updateBin(ctx, prescriptionID, actor, "willcall.notify", func(bin *prescription.WillCallBin) error {
		return bin.MarkNotified(e.now())
	})
}

// RecordPickup closes the bin and sells the prescription in one call. The
// bin flip and the SOLD transition commit together, so a version conflict
// leaves the bin ready for a clean retry.
func (e *Engine) RecordPickup(ctx context.Context, prescriptionID, actor string) (*Transition, error) {
	t, err := e.advance(ctx, prescriptionID, prescription.StateSold, actor, AdvanceOptions{}, func(bin *prescription.WillCallBin) error {
		return bin.MarkPickedUp(e.now())
	})
	if err != nil {
		return nil, err
	}
	e.auditLog(ctx, "willcall.pickup", "will_call_bin", prescriptionID, actor, map[string]interface{}{
		"state": string(prescription.BinPickedUp),
	})
	return t, nil
}

// ExtendHold grants the patient more days before the return threshold.
func (e *Engine) ExtendHold(ctx context.Context, prescriptionID string, days int, actor string) error {
	return e.updateBin(ctx, prescriptionID, actor, "willcall.extend", func(bin *prescription.WillCallBin) error {
		return bin.ExtendHold(days, e.now(), e.config.BinPolicy)
	})
}

// ReturnToStock closes an aged-out bin and terminates the prescription in
// one commit. Stock was never decremented for an unsold fill, so no ledger
// entry is appended here.
func (e *Engine) ReturnToStock(ctx context.Context, prescriptionID, actor string) (*Transition, error) {
	t, err := e.advance(ctx, prescriptionID, prescription.StateReturnedToStock, actor, AdvanceOptions{}, func(bin *prescription.WillCallBin) error {
		// A sweep may already have flagged the bin return-pending.
		if bin.State != prescription.BinReturnPending {
			if err := bin.MarkReturnPending(e.now(), e.config.BinPolicy); err != nil {
				return err
			}
		}
		return bin.MarkReturned()
	})
	if err != nil {
		return nil, err
	}
	e.auditLog(ctx, "willcall.return", "will_call_bin", prescriptionID, actor, map[string]interface{}{
		"state": string(prescription.BinReturned),
	})
	return t, nil
}

// SweepReport summarizes one pass over a pharmacy's open bins.
type SweepReport struct {
	PharmacyID    string    `json:"pharmacy_id"`
	BinsChecked   int       `json:"bins_checked"`
	ExpiringSoon  []string  `json:"expiring_soon,omitempty"`
	FlaggedReturn []string  `json:"flagged_return,omitempty"`
	SweptAt       time.Time `json:"swept_at"`
}

// SweepWillCall ages every open bin for a pharmacy: bins past the return
// threshold are flagged return-pending, bins inside the warning window are
// reported for a patient reminder.
func (e *Engine) SweepWillCall(ctx context.Context, pharmacyID, actor string) (*SweepReport, error) {
	bins, err := e.store.ListOpenBins(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	report := &SweepReport{PharmacyID: pharmacyID, BinsChecked: len(bins), SweptAt: now}

	for _, bin := range bins {
		switch {
		case bin.RequiresReturn(now, e.config.BinPolicy):
			if err := bin.MarkReturnPending(now, e.config.BinPolicy); err != nil {
				e.logger.Warn("sweep could not flag bin",
					zap.String("prescription_id", bin.PrescriptionID), zap.Error(err))
				continue
			}
			event, evErr := prescription.NewEvent(bin.PrescriptionID, prescription.EventBinUpdated, bin)
			if evErr != nil {
				return nil, evErr
			}
			event.WithActor(actor)
			if err := e.store.SaveBin(ctx, bin, []*prescription.Event{event}); err != nil {
				return nil, err
			}
			report.FlaggedReturn = append(report.FlaggedReturn, bin.PrescriptionID)
		case bin.IsExpiringSoon(now, e.config.BinPolicy):
			report.ExpiringSoon = append(report.ExpiringSoon, bin.PrescriptionID)
		}
	}

	if e.metrics != nil {
		e.metrics.WillCallBinDepth.Set(float64(report.BinsChecked - len(report.FlaggedReturn)))
	}
	e.logger.Info("will-call sweep complete",
		zap.String("pharmacy_id", pharmacyID),
		zap.Int("bins", report.BinsChecked),
		zap.Int("expiring_soon", len(report.ExpiringSoon)),
		zap.Int("flagged_return", len(report.FlaggedReturn)),
	)
	e.auditLog(ctx, "willcall.sweep", "pharmacy", pharmacyID, actor, map[string]interface{}{
		"bins_checked": report.BinsChecked, "flagged_return": report.FlaggedReturn,
	})
	return report, nil
}

// updateBin loads, mutates, and persists a bin with an event, serialized
// on the prescription key.
func (e *Engine) updateBin(ctx context.Context, prescriptionID, actor, action string, mutate func(*prescription.WillCallBin) error) error {
	if actor == "" {
		return &ValidationError{Reason: "actor is required"}
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.config.LockTimeout)
	defer cancel()
	release, err := e.locks.Acquire(lockCtx, "rx:"+prescriptionID)
	if err != nil {
		return ErrConflict
	}
	defer release()

	bin, err := e.store.GetBin(ctx, prescriptionID)
	if err != nil {
		return err
	}
	if err := mutate(bin); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	event, err := prescription.NewEvent(prescriptionID, prescription.EventBinUpdated, bin)
	if err != nil {
		return err
	}
	event.WithActor(actor)

	if err := e.store.SaveBin(ctx, bin, []*prescription.Event{event}); err != nil {
		return err
	}

	e.auditLog(ctx, action, "will_call_bin", prescriptionID, actor, map[string]interface{}{
		"state": string(bin.State),
	})
	return nil
}
