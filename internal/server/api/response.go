// Package api provides the HTTP handlers for the configuration and history
// resources of the control API.
package api

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string, details ...string) {
	WriteJSON(w, status, errorResponse{Error: message, Details: details})
}
