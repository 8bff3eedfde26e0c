package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/api/middleware"
	"github.com/meridianrx/dispense/internal/workflow"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeDomainError maps workflow errors to HTTP status codes. Compliance
// blocks and claim rejections carry their full reason lists to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var verr *workflow.ValidationError
	var terr *workflow.InvalidTransitionError
	var cerr *workflow.ComplianceError
	var rerr *workflow.ClaimRejectedError
	var uerr *workflow.UnknownRejectCodeError

	switch {
	case errors.Is(err, workflow.ErrNotFound):
		jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, workflow.ErrConflict):
		jsonError(w, "conflicting update in progress, retry", http.StatusConflict)
	case errors.As(err, &verr):
		jsonError(w, verr.Error(), http.StatusBadRequest)
	case errors.As(err, &terr):
		jsonError(w, terr.Error(), http.StatusConflict)
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    "dispensing blocked",
			"errors":   cerr.Result.Errors,
			"warnings": cerr.Result.Warnings,
		})
	case errors.As(err, &rerr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":       "claim rejected",
			"reject_code": rerr.Code,
			"messages":    rerr.Messages,
			"resolution":  rerr.Resolution,
		})
	case errors.As(err, &uerr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":       "claim rejected with unrecognized code, pharmacist review required",
			"reject_code": uerr.Code,
		})
	default:
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

// actorFrom resolves the acting user: the X-Actor header when present,
// else the authenticated client ID.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return middleware.GetClientID(r.Context())
}
