package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/layout"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeUnavailable writes a 503 for a collaborator that is not configured.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps core, channel, protection and layout errors to a
// response.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, channel.ErrNotFound),
		errors.Is(err, protection.ErrNotConfigured):
		writeNotFound(w, err.Error())
	case errors.Is(err, channel.ErrReadOnly):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, protection.ErrInvalidIndex):
		writeBadRequest(w, err.Error())
	case errors.Is(err, core.ErrSafeState):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, core.ErrInvalidPlan),
		errors.Is(err, layout.ErrParse),
		errors.Is(err, layout.ErrSchema),
		errors.Is(err, layout.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
