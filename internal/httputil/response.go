// Package httputil carries the HTTP plumbing shared by the project server
// and its clients: JSON response writers and a client seam tests can swap.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/pointscape/pointscape/internal/monitoring"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		monitoring.Logf("httputil: encoding %d response: %v", status, err)
	}
}

// WriteJSONOK writes payload with status 200.
func WriteJSONOK(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, payload)
}

// WriteJSONError writes {"error": msg} with the given status. Every error
// path of the API goes through here so clients can rely on the shape.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// BadRequest writes a 400 with msg.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound writes a 404 with msg.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

// MethodNotAllowed writes a 405.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// InternalServerError writes a 500 with msg.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}
