package apiclient

import (
	"net/url"

	"github.com/cin-tie/remote-shell/pkg/api/handlers"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// Health is the liveness payload.
type Health struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Health calls GET /health.
func (c *Client) Health() (*Health, error) {
	var h Health
	if err := c.get("/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ready calls GET /health/ready and returns the server statistics.
func (c *Client) Ready() (*handlers.Stats, error) {
	var s handlers.Stats
	if err := c.get("/health/ready", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions calls GET /api/v1/sessions.
func (c *Client) ListSessions() ([]session.Info, error) {
	var out []session.Info
	if err := c.get("/api/v1/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// KickSession gracefully disconnects username. An empty reason uses the
// server default.
func (c *Client) KickSession(username, reason string) error {
	path := "/api/v1/sessions/" + escape(username)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.delete(path, nil)
}
