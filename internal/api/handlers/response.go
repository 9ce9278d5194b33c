package handlers

import (
	"encoding/json"
	"net/http"

	"fractiverse/internal/config"
	"fractiverse/internal/logger"
)

// ErrorResponse is the body of every JSON error
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// sendJSON writes v as a JSON response with the given status
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("Failed to encode response")
	}
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}

// sendInternalError logs err and sends a 500. The error text is only exposed
// in development.
func sendInternalError(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, message string, err error) {
	logger.FromContext(r.Context()).WithError(err).Error(message)

	resp := ErrorResponse{Error: message}
	if cfg != nil && cfg.IsDevelopment() && err != nil {
		resp.Details = err.Error()
	}
	sendJSON(w, http.StatusInternalServerError, resp)
}
