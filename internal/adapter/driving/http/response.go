package httphandler

import (
	"encoding/json"
	"net/http"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// StatusResponse reports login state and recent capture activity.
type StatusResponse struct {
	Login            string `json:"login"`
	LastCapturedText string `json:"last_captured_text,omitempty"`
	LastCapturedAt   string `json:"last_captured_at,omitempty"`
	AnalyzeEndpoint  string `json:"analyze_endpoint,omitempty"`
}

// LoginResponse carries the user-facing status string after a login or
// logout action.
type LoginResponse struct {
	Status string `json:"status"`
}

// SetEndpointRequest is the body for the endpoint override route.
type SetEndpointRequest struct {
	URL string `json:"url"`
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
