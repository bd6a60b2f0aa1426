package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jandrishti/aqi-backend/internal/logging"
)

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	ErrorID    string `json:"error_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeValidationError(w http.ResponseWriter, message string, details any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation Error", Message: message, Details: details})
}

// writeInternalError logs err under a fresh id and returns only the id to the client.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	id := "ERR-" + uuid.NewString()[:8]
	logging.Error().Err(err).Str("error_id", id).Str("path", r.URL.Path).Msg("unexpected error")
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   "Internal Server Error",
		Message: "An unexpected error occurred. Please try again later.",
		ErrorID: id,
	})
}
