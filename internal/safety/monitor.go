// Package safety runs the periodic exchange health check that gates
// new-entry submissions.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// Prober is the slice of the exchange gateway the monitor needs: a cheap
// liveness call whose round trip is the latency sample, plus the remaining
// API quota.
type Prober interface {
	IsConnected(ctx context.Context) bool
	Ping(ctx context.Context) (time.Duration, error)
	Quota(ctx context.Context) (remaining int, resetAt time.Time, err error)
}

// Config holds the health thresholds.
type Config struct {
	CheckInterval time.Duration
	MaxLatencyMs  int64
	MinQuota      int
}

// Monitor polls the venue on a fixed interval and keeps the latest
// HealthStatus. Unhealthy blocks entries only; recovery is automatic on the
// next good tick, unlike the circuit breaker's deliberate reset.
type Monitor struct {
	cfg    Config
	prober Prober
	logger *slog.Logger

	// onChange fires outside the lock whenever IsHealthy flips.
	onChange func(domain.HealthStatus)

	mu     sync.RWMutex
	status domain.HealthStatus
}

// NewMonitor returns a monitor that starts out healthy so bots are not
// blocked before the first tick completes.
func NewMonitor(cfg Config, prober Prober, logger *slog.Logger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	return &Monitor{
		cfg:    cfg,
		prober: prober,
		logger: logger.With(slog.String("component", "safety_monitor")),
		status: domain.HealthStatus{IsHealthy: true, LastCheckAt: time.Now().UTC()},
	}
}

// OnChange registers a callback invoked whenever the healthy flag flips.
// Must be called before Run.
func (m *Monitor) OnChange(fn func(domain.HealthStatus)) {
	m.onChange = fn
}

// Run ticks until ctx is cancelled. An immediate first check runs before the
// ticker starts so the status is fresh at startup.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs one health probe and updates the stored status.
func (m *Monitor) Check(ctx context.Context) domain.HealthStatus {
	status := domain.HealthStatus{
		IsHealthy:   true,
		LastCheckAt: time.Now().UTC(),
	}

	if !m.prober.IsConnected(ctx) {
		status.IsHealthy = false
		status.Reason = "Exchange connection lost"
		status.Errors = append(status.Errors, status.Reason)
	} else {
		latency, err := m.prober.Ping(ctx)
		if err != nil {
			status.IsHealthy = false
			status.Reason = fmt.Sprintf("Health probe failed: %v", err)
			status.Errors = append(status.Errors, status.Reason)
		} else {
			status.LatencyMs = latency.Milliseconds()
			if status.LatencyMs > m.cfg.MaxLatencyMs {
				status.IsHealthy = false
				status.Reason = fmt.Sprintf("High latency detected: %dms", status.LatencyMs)
				status.Errors = append(status.Errors, status.Reason)
			}
		}

		remaining, _, err := m.prober.Quota(ctx)
		if err == nil {
			status.APIQuotaRemaining = remaining
			if remaining < m.cfg.MinQuota {
				status.IsHealthy = false
				if status.Reason == "" {
					status.Reason = fmt.Sprintf("API quota low: %d remaining", remaining)
				}
				status.Errors = append(status.Errors, fmt.Sprintf("API quota low: %d remaining", remaining))
			}
		}
	}

	m.mu.Lock()
	changed := m.status.IsHealthy != status.IsHealthy
	m.status = status
	m.mu.Unlock()

	if changed {
		if status.IsHealthy {
			m.logger.Info("exchange health recovered")
		} else {
			m.logger.Warn("exchange unhealthy", slog.String("reason", status.Reason))
		}
		if m.onChange != nil {
			m.onChange(status)
		}
	}
	return status
}

// Status returns the latest health snapshot.
func (m *Monitor) Status() domain.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Healthy reports whether entries may proceed.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.IsHealthy
}
