package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/asialea/promptwatch/internal/bus"
	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the local control API.
type Handler struct {
	store  driven.StateStore
	agent  *bus.Bus
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(store driven.StateStore, agent *bus.Bus, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		agent:  agent,
		logger: logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("POST /api/v1/login", h.Login)
	mux.HandleFunc("POST /api/v1/logout", h.Logout)
	mux.HandleFunc("PUT /api/v1/endpoint", h.SetEndpoint)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Status reports login state, last capture, and the active analysis endpoint.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.agent.Call(r.Context(), bus.KindGetUserEmail, false)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "agent unavailable")
		return
	}

	status := StatusResponse{Login: loginStatus(resp)}

	if text, err := h.store.Get(r.Context(), driven.KeyLastCapturedText); err == nil {
		status.LastCapturedText = text
	}
	if at, err := h.store.Get(r.Context(), driven.KeyCapturedAt); err == nil {
		status.LastCapturedAt = at
	}
	if endpoint, err := h.store.Get(r.Context(), driven.KeyAnalyzeEndpoint); err == nil {
		status.AnalyzeEndpoint = endpoint
	}

	writeJSON(w, http.StatusOK, status)
}

// Login runs the interactive login flow and blocks until it settles.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	resp, err := h.agent.Call(r.Context(), bus.KindStartLogin, true)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "agent unavailable")
		return
	}
	if !resp.OK() {
		h.logger.Warn("login flow failed", "reason", resp.Err)
		writeJSON(w, http.StatusOK, LoginResponse{Status: "Login cancelled or failed"})
		return
	}

	// The flow may finish before identity resolution; ask again so the
	// status string carries the email when one is already cached.
	status := "Logged in"
	if emailResp, err := h.agent.Call(r.Context(), bus.KindGetUserEmail, false); err == nil && emailResp.OK() && emailResp.Email != "" {
		status = "Logged in as " + emailResp.Email
	}
	writeJSON(w, http.StatusOK, LoginResponse{Status: status})
}

// Logout revokes the credential and clears local session state.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	resp, err := h.agent.Call(r.Context(), bus.KindLogout, false)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "agent unavailable")
		return
	}
	if !resp.OK() {
		h.logger.Error("logout failed", "reason", resp.Err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Status: "Login required"})
}

// SetEndpoint stores an analysis endpoint override. An empty URL clears the
// override so deliveries fall back to the configured default.
func (h *Handler) SetEndpoint(w http.ResponseWriter, r *http.Request) {
	var req SetEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		if err := h.store.Delete(r.Context(), driven.KeyAnalyzeEndpoint); err != nil {
			h.logger.Error("failed to clear endpoint override", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !isValidEndpointURL(req.URL) {
		writeError(w, http.StatusBadRequest, "invalid endpoint URL: expected absolute http or https URL")
		return
	}

	if err := h.store.Set(r.Context(), driven.KeyAnalyzeEndpoint, req.URL); err != nil {
		h.logger.Error("failed to store endpoint override", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, SetEndpointRequest{URL: req.URL})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// loginStatus maps an identity response onto the user-facing status string.
func loginStatus(resp bus.Response) string {
	switch {
	case resp.NoCredential, !resp.OK():
		return "Login required"
	case resp.Email != "":
		return "Logged in as " + resp.Email
	default:
		return "Logged in"
	}
}

// isValidEndpointURL validates that raw is an absolute http(s) URL.
func isValidEndpointURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
