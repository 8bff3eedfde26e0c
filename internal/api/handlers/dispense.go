// Package handlers provides HTTP handlers for the dispense API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/api/middleware"
	"github.com/meridianrx/dispense/internal/compliance"
	"github.com/meridianrx/dispense/internal/domain/prescription"
	"github.com/meridianrx/dispense/internal/workflow"
	"github.com/meridianrx/dispense/pkg/idempotency"
)

// DispenseHandler exposes the prescription lifecycle over HTTP. All state
// changes go through the workflow engine; the handler never writes.
type DispenseHandler struct {
	engine *workflow.Engine
	reader PrescriptionReader
	inbox  *idempotency.Inbox
	logger *zap.Logger
}

// PrescriptionReader serves read-only queries next to the engine.
type PrescriptionReader interface {
	GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error)
	GetBin(ctx context.Context, prescriptionID string) (*prescription.WillCallBin, error)
}

// NewDispenseHandler creates a new handler
func NewDispenseHandler(engine *workflow.Engine, reader PrescriptionReader, logger *zap.Logger) *DispenseHandler {
	return &DispenseHandler{
		engine: engine,
		reader: reader,
		logger: logger,
	}
}

// WithInbox enables idempotent advance processing: a retried request is
// served its original result instead of re-running the transition.
func (h *DispenseHandler) WithInbox(inbox *idempotency.Inbox) *DispenseHandler {
	h.inbox = inbox
	return h
}

// Routes returns the handler routes
func (h *DispenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/advance", h.Advance)
	r.Post("/{id}/archive", h.Archive)
	r.Post("/{id}/willcall", h.PlaceInWillCall)
	r.Get("/{id}/willcall", h.GetBin)
	r.Post("/{id}/willcall/notify", h.NotifyPatient)
	r.Post("/{id}/willcall/pickup", h.RecordPickup)
	r.Post("/{id}/willcall/extend", h.ExtendHold)
	r.Post("/{id}/willcall/return", h.ReturnToStock)
	return r
}

// CreateRequest is the request body for creating a prescription
type CreateRequest struct {
	PharmacyID     string  `json:"pharmacy_id"`
	PatientID      string  `json:"patient_id"`
	PrescriberID   string  `json:"prescriber_id"`
	PrescriberDEA  string  `json:"prescriber_dea,omitempty"`
	NDC            string  `json:"ndc"`
	DrugName       string  `json:"drug_name"`
	Schedule       string  `json:"schedule,omitempty"`
	Quantity       float64 `json:"quantity"`
	DaysSupply     int     `json:"days_supply"`
	RefillsAllowed int     `json:"refills_allowed"`
	Priority       string  `json:"priority,omitempty"`
	WrittenDate    string  `json:"written_date"`
}

// CreateResponse is the response for creating a prescription
type CreateResponse struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	IsControlled bool      `json:"is_controlled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Create handles POST /prescriptions
func (h *DispenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("dispense-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	writtenDate, err := time.Parse("2006-01-02", req.WrittenDate)
	if err != nil {
		jsonError(w, "written_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	p := prescription.New(uuid.New().String(), req.PharmacyID, req.PatientID, req.PrescriberID, time.Now())
	p.PrescriberDEA = req.PrescriberDEA
	p.NDC = req.NDC
	p.DrugName = req.DrugName
	p.Schedule = compliance.Schedule(req.Schedule)
	p.Quantity = req.Quantity
	p.DaysSupply = req.DaysSupply
	p.RefillsAllowed = req.RefillsAllowed
	p.WrittenDate = writtenDate
	if req.Priority != "" {
		p.Priority = prescription.Priority(req.Priority)
	}
	span.SetAttributes(attribute.String("prescription_id", p.ID))

	if err := h.engine.Intake(ctx, p, actorFrom(r)); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("prescription created",
		zap.String("id", p.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Bool("controlled", p.IsControlled()),
	)

	writeJSON(w, http.StatusCreated, CreateResponse{
		ID:           p.ID,
		State:        string(p.State),
		IsControlled: p.IsControlled(),
		CreatedAt:    p.CreatedAt,
	})
}

// Get handles GET /prescriptions/{id}
func (h *DispenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.reader.GetPrescription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AdvanceRequest is the request for a workflow transition
type AdvanceRequest struct {
	Target       string             `json:"target"`
	PartialFill  bool               `json:"partial_fill,omitempty"`
	FillQuantity float64            `json:"fill_quantity,omitempty"`
	Override     *workflow.Override `json:"override,omitempty"`
}

// Advance handles POST /prescriptions/{id}/advance
func (h *DispenseHandler) Advance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	actor := actorFrom(r)

	var req AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	advance := func(ctx context.Context) (*workflow.Transition, error) {
		return h.engine.Advance(ctx, id, prescription.State(req.Target), actor, workflow.AdvanceOptions{
			Override:      req.Override,
			PartialFill:   req.PartialFill,
			FillQuantity:  req.FillQuantity,
			CorrelationID: middleware.GetRequestID(ctx),
		})
	}

	if h.inbox == nil {
		tr, err := advance(ctx)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, tr)
		return
	}

	key := idempotency.GenerateKey(id, req.Target, actor, time.Now())
	payload, err := json.Marshal(req)
	if err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.inbox.Process(ctx, key, "advance_prescription", payload,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			tr, err := advance(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(tr)
		})
	if err != nil {
		if errors.Is(err, idempotency.ErrMessageInProgress) {
			jsonError(w, "transition already in progress, retry shortly", http.StatusConflict)
			return
		}
		writeDomainError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Result)
}

// Archive handles POST /prescriptions/{id}/archive
func (h *DispenseHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Archive(r.Context(), id, actorFrom(r)); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "archived"})
}

// PlaceRequest is the request for opening a will-call bin
type PlaceRequest struct {
	Location string `json:"location"`
}

// PlaceInWillCall handles POST /prescriptions/{id}/willcall
func (h *DispenseHandler) PlaceInWillCall(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	bin, err := h.engine.PlaceInWillCall(r.Context(), chi.URLParam(r, "id"), req.Location, actorFrom(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bin)
}

// GetBin handles GET /prescriptions/{id}/willcall
func (h *DispenseHandler) GetBin(w http.ResponseWriter, r *http.Request) {
	bin, err := h.reader.GetBin(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bin)
}

// NotifyPatient handles POST /prescriptions/{id}/willcall/notify
func (h *DispenseHandler) NotifyPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.NotifyPatient(r.Context(), id, actorFrom(r)); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "notified"})
}

// RecordPickup handles POST /prescriptions/{id}/willcall/pickup
func (h *DispenseHandler) RecordPickup(w http.ResponseWriter, r *http.Request) {
	tr, err := h.engine.RecordPickup(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// ExtendRequest is the request for extending a will-call hold
type ExtendRequest struct {
	Days int `json:"days"`
}

// ExtendHold handles POST /prescriptions/{id}/willcall/extend
func (h *DispenseHandler) ExtendHold(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.engine.ExtendHold(r.Context(), id, req.Days, actorFrom(r)); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "extended"})
}

// ReturnToStock handles POST /prescriptions/{id}/willcall/return
func (h *DispenseHandler) ReturnToStock(w http.ResponseWriter, r *http.Request) {
	tr, err := h.engine.ReturnToStock(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// Sweep handles POST /pharmacies/{pharmacyID}/willcall/sweep
func (h *DispenseHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.SweepWillCall(r.Context(), chi.URLParam(r, "pharmacyID"), actorFrom(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

