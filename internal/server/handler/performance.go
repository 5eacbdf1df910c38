package handler

import (
	"log/slog"
	"net/http"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// PerfSource exposes the performance monitor's rolling metrics and the
// alerts from its latest threshold evaluation.
type PerfSource interface {
	Metrics() domain.PerformanceMetrics
	Alerts() []string
}

// AccuracySource exposes per-provider prediction accuracy.
type AccuracySource interface {
	Accuracy(provider string) (float64, bool)
	Weight(provider string) float64
}

// ProviderLister enumerates registered signal providers.
type ProviderLister interface {
	List() []string
}

// PerformanceHandler serves the performance metrics endpoint.
type PerformanceHandler struct {
	perf      PerfSource
	tracker   AccuracySource
	providers ProviderLister
	logger    *slog.Logger
}

// NewPerformanceHandler creates a PerformanceHandler with the given sources.
func NewPerformanceHandler(perf PerfSource, tracker AccuracySource, providers ProviderLister, logger *slog.Logger) *PerformanceHandler {
	return &PerformanceHandler{
		perf:      perf,
		tracker:   tracker,
		providers: providers,
		logger:    logger,
	}
}

// providerAccuracy is one signal provider's scored accuracy and ensemble
// weight.
type providerAccuracy struct {
	Provider string   `json:"provider"`
	Accuracy *float64 `json:"accuracy,omitempty"` // nil until enough graded votes
	Weight   float64  `json:"weight"`
}

// performanceResponse wraps the performance metrics response.
type performanceResponse struct {
	Metrics   domain.PerformanceMetrics `json:"metrics"`
	Alerts    []string                  `json:"alerts"`
	Providers []providerAccuracy        `json:"providers"`
}

// GetPerformance returns the rolling trade metrics, active alerts and
// per-provider signal accuracy.
// GET /api/performance
func (h *PerformanceHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	resp := performanceResponse{
		Metrics:   h.perf.Metrics(),
		Alerts:    h.perf.Alerts(),
		Providers: []providerAccuracy{},
	}
	if resp.Alerts == nil {
		resp.Alerts = []string{}
	}

	for _, name := range h.providers.List() {
		pa := providerAccuracy{
			Provider: name,
			Weight:   h.tracker.Weight(name),
		}
		if acc, ok := h.tracker.Accuracy(name); ok {
			pa.Accuracy = &acc
		}
		resp.Providers = append(resp.Providers, pa)
	}

	writeJSON(w, http.StatusOK, resp)
}
