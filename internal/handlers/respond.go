package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"identityrecon/internal/apperr"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, status int, msg string) {
	writeJSON(w, log, status, errorBody{Error: msg})
}

// writeServiceError maps an error kind to its HTTP status. Only validation
// failures echo the error text; everything else gets a generic message.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, log, http.StatusBadRequest, validationMessage(err))
	case apperr.Retryable(err):
		log.Warn().Err(err).Msg("persistence failure")
		w.Header().Set("Retry-After", "1")
		writeError(w, log, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, log, http.StatusInternalServerError, "Internal server error")
	}
}

// validationMessage strips the wrapping so clients see only the reason.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
