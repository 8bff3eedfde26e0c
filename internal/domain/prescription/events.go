// Package prescription: domain events emitted by the workflow engine.
package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

const (
	EventCreated           EventType = "PrescriptionCreated"
	EventStateChanged      EventType = "PrescriptionStateChanged"
	EventComplianceBlocked EventType = "PrescriptionComplianceBlocked"
	EventClaimRejected     EventType = "PrescriptionClaimRejected"
	EventOverrideApplied   EventType = "PrescriptionOverrideApplied"
	EventArchived          EventType = "PrescriptionArchived"
	EventBinUpdated        EventType = "WillCallBinUpdated"
)

// Event is the envelope persisted for the audit collaborator and relayed to
// the event stream.
type Event struct {
	ID             string          `json:"id"`
	PrescriptionID string          `json:"prescription_id"`
	EventType      EventType       `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	Actor          string          `json:"actor,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent creates an event with a marshaled payload.
func NewEvent(prescriptionID string, eventType EventType, data interface{}) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:             uuid.New().String(),
		PrescriptionID: prescriptionID,
		EventType:      eventType,
		EventData:      payload,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// WithActor sets the acting user on the event.
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// StateChangedData is the payload of a workflow transition event.
type StateChangedData struct {
	PrescriptionID string    `json:"prescription_id"`
	FromState      State     `json:"from_state"`
	ToState        State     `json:"to_state"`
	Actor          string    `json:"actor"`
	Reasons        []string  `json:"reasons,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
	TransitionedAt time.Time `json:"transitioned_at"`
}

// ComplianceBlockedData is the payload when the controlled-substance engine
// blocks a transition. Every failing reason is carried; nothing collapses
// to a boolean.
type ComplianceBlockedData struct {
	PrescriptionID string    `json:"prescription_id"`
	TargetState    State     `json:"target_state"`
	Errors         []string  `json:"errors"`
	Warnings       []string  `json:"warnings,omitempty"`
	Actor          string    `json:"actor"`
	BlockedAt      time.Time `json:"blocked_at"`
}

// ClaimRejectedData is the payload when adjudication rejects a claim.
type ClaimRejectedData struct {
	PrescriptionID string    `json:"prescription_id"`
	RejectCode     string    `json:"reject_code"`
	Description    string    `json:"description,omitempty"`
	KnownCode      bool      `json:"known_code"`
	Actor          string    `json:"actor"`
	RejectedAt     time.Time `json:"rejected_at"`
}

// OverrideAppliedData is the payload of a staff override.
type OverrideAppliedData struct {
	PrescriptionID string    `json:"prescription_id"`
	RejectCode     string    `json:"reject_code"`
	OverrideCode   string    `json:"override_code"`
	Justification  string    `json:"justification"`
	Actor          string    `json:"actor"`
	AppliedAt      time.Time `json:"applied_at"`
}
