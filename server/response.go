package server

import (
	"encoding/json"
	"net/http"

	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/logger"
	"github.com/outfield/enrichd/token"
)

// errorResponse is the JSON error envelope
type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("Failed to encode response", logger.FieldError, err)
	}
}

// writeError maps an error to its HTTP status and writes the envelope.
// Hints attached via errors.WithHint surface to the client.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		resp.Hint = hints[0]
	}

	writeJSON(w, statusFor(err), resp)
}

// statusFor maps the error taxonomy to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrCapabilityExceeded):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, token.ErrCredentialMissing):
		// Actionable: the owner must reconnect the provider account
		return http.StatusUnprocessableEntity
	case errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
