package handlers

import (
	"net/http"
	"time"
)

// Service is the name reported by the liveness probe.
const Service = "remote-shell"

// HealthHandler serves the unauthenticated health endpoints.
type HealthHandler struct {
	runtime Runtime
}

// NewHealthHandler creates a health handler. runtime may be nil, in which
// case readiness reports unhealthy.
func NewHealthHandler(runtime Runtime) *HealthHandler {
	return &HealthHandler{runtime: runtime}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"service": Service}
	if h.runtime != nil {
		started := h.runtime.Stats().StartedAt
		uptime := time.Since(started).Round(time.Second)
		data["started_at"] = started.UTC().Format(time.RFC3339)
		data["uptime"] = uptime.String()
		data["uptime_sec"] = int64(uptime.Seconds())
	}
	JSON(w, http.StatusOK, HealthyResponse(data))
}

// Readiness handles GET /health/ready. The server is ready once at least
// one transport is listening.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.runtime == nil {
		JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("runtime not initialized"))
		return
	}

	stats := h.runtime.Stats()
	if len(stats.Transports) == 0 {
		JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("no transports listening"))
		return
	}
	JSON(w, http.StatusOK, HealthyResponse(stats))
}
