package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// ErrSessionNotFound is returned by Runtime.Kick for unknown usernames.
var ErrSessionNotFound = errors.New("session not found")

// TransportInfo describes one listening transport.
type TransportInfo struct {
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
}

// Stats is a point-in-time summary of the server.
type Stats struct {
	StartedAt          time.Time       `json:"started_at"`
	ActiveSessions     int             `json:"active_sessions"`
	MaxUsers           int             `json:"max_users"`
	TotalRegistrations int64           `json:"total_registrations"`
	Transports         []TransportInfo `json:"transports"`
}

// Runtime is the view of the running server the admin API needs.
type Runtime interface {
	Stats() Stats
	Sessions() []session.Info

	// Kick gracefully disconnects username. Returns ErrSessionNotFound when
	// no such session exists.
	Kick(ctx context.Context, username, reason string) error
}

// SessionHandler serves the session management endpoints.
type SessionHandler struct {
	runtime Runtime
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(runtime Runtime) *SessionHandler {
	return &SessionHandler{runtime: runtime}
}

// List handles GET /api/v1/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.runtime.Sessions()
	if sessions == nil {
		sessions = []session.Info{}
	}
	JSON(w, http.StatusOK, OKResponse(sessions))
}

// Kick handles DELETE /api/v1/sessions/{username}. The optional reason query
// parameter is sent to the client with the Disconnect notice.
func (h *SessionHandler) Kick(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "Disconnected by administrator"
	}

	err := h.runtime.Kick(r.Context(), username, reason)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		JSON(w, http.StatusNotFound, ErrorResponse("session not found: "+username))
	case err != nil:
		logger.Warn("Admin kick failed", logger.KeyUsername, username, logger.Err(err))
		JSON(w, http.StatusInternalServerError, ErrorResponse(err.Error()))
	default:
		logger.Info("Session kicked by administrator", logger.KeyUsername, username)
		JSON(w, http.StatusOK, OKResponse(map[string]string{"username": username}))
	}
}
