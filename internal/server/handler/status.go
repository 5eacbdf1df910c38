package handler

import (
	"log/slog"
	"net/http"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/orchestrator"
)

// StatusSource exposes the orchestrator's status snapshot and the manual
// circuit breaker reset.
type StatusSource interface {
	SystemStatus() orchestrator.SystemStatus
	ResetCircuitBreaker() bool
}

// StatusHandler serves the system-wide status and circuit breaker endpoints.
type StatusHandler struct {
	orch   StatusSource
	mode   string
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(orch StatusSource, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{orch: orch, mode: mode, logger: logger}
}

// statusResponse wraps the status snapshot with the run mode.
type statusResponse struct {
	Mode string `json:"mode"`
	orchestrator.SystemStatus
}

// GetStatus returns every bot, the health and circuit gates, and the rolling
// performance and risk snapshots.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:         h.mode,
		SystemStatus: h.orch.SystemStatus(),
	})
}

// ResetCircuitBreaker attempts a manual breaker reset. A reset during the
// cooldown window is refused with 409.
// POST /api/circuit-breaker/reset
func (h *StatusHandler) ResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if !h.orch.ResetCircuitBreaker() {
		h.logger.WarnContext(r.Context(), "handler: breaker reset refused during cooldown")
		writeError(w, http.StatusConflict, "circuit breaker cooldown has not elapsed")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: circuit breaker manually reset")
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}
