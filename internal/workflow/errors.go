// Package workflow orchestrates the prescription lifecycle: it owns every
// state transition, gates them through the compliance and claims engines,
// and commits the outcome atomically. It is the only writer of
// prescription state and the only place engine rejections become
// workflow-blocking errors.
package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meridianrx/dispense/internal/claims"
	"github.com/meridianrx/dispense/internal/compliance"
	"github.com/meridianrx/dispense/internal/domain/prescription"
)

// ErrConflict is returned when a transition loses the per-key exclusion
// race or the optimistic version check. Safe to retry.
var ErrConflict = errors.New("concurrent modification, retry the operation")

// ErrNotFound is returned when the prescription does not exist.
var ErrNotFound = errors.New("prescription not found")

// ValidationError reports malformed caller input. Never retried
// automatically; the caller must correct the request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// InvalidTransitionError reports a transition the state machine forbids.
// This is caller misuse, fatal to the request.
type InvalidTransitionError struct {
	From prescription.State
	To   prescription.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ComplianceError reports a controlled-substance block. The full reasons
// and warnings lists survive for operator display; an override requires a
// documented code and justification.
type ComplianceError struct {
	Result compliance.ValidationResult
}

func (e *ComplianceError) Error() string {
	return "compliance blocked: " + strings.Join(e.Result.Errors, "; ")
}

// ClaimRejectedError reports a payer rejection without an applied override.
// Resolution is attached when the code is in the knowledge base.
type ClaimRejectedError struct {
	Code       string
	Messages   []string
	Resolution *claims.RejectCodeResolution
}

func (e *ClaimRejectedError) Error() string {
	if e.Resolution != nil {
		return fmt.Sprintf("claim rejected: %s (%s)", e.Code, e.Resolution.Description)
	}
	return "claim rejected: " + e.Code
}

// UnknownRejectCodeError reports a reject code outside the knowledge base.
// Callers must escalate to a human, never treat it as no issue.
type UnknownRejectCodeError struct {
	Code string
}

func (e *UnknownRejectCodeError) Error() string {
	return fmt.Sprintf("unknown reject code %q, escalate to pharmacist", e.Code)
}
