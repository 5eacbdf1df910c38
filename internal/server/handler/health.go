package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// HealthSource exposes the safety monitor's latest venue verdict.
type HealthSource interface {
	Status() domain.HealthStatus
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	safety HealthSource
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided safety source.
func NewHealthHandler(safety HealthSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{safety: safety, logger: logger}
}

// HealthCheck reports liveness plus the latest exchange health verdict.
// Returns 503 when the venue is unhealthy so load balancers can act on it.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	venue := h.safety.Status()

	status := "ok"
	code := http.StatusOK
	if !venue.IsHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"venue":     venue,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
