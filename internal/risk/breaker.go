package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// BreakerConfig holds the circuit breaker trip thresholds.
type BreakerConfig struct {
	MaxDailyLossPct float64
	MaxDrawdownPct  float64
	VolatilitySpike float64
	CooldownPeriod  time.Duration
}

// Breaker is the process-wide circuit breaker. While open, every new-entry
// submission across all bots is rejected; exit management always passes.
// Closing again requires an explicit Reset after the cooldown has elapsed.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	open          bool
	reason        string
	lastTrippedAt time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "circuit_breaker")),
		now:    time.Now,
	}
}

// Allow returns nil when entries may proceed, or a CircuitOpenError carrying
// the trip reason.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return &domain.CircuitOpenError{Reason: b.reason}
	}
	return nil
}

// Evaluate checks the loss thresholds after a settlement and trips the
// breaker when one is breached. It reports whether this call opened the
// circuit.
func (b *Breaker) Evaluate(dailyLossPct, maxDrawdownPct float64) bool {
	if dailyLossPct >= b.cfg.MaxDailyLossPct {
		return b.Trip(fmt.Sprintf("Daily loss limit exceeded: %.2f%%", dailyLossPct*100))
	}
	if maxDrawdownPct >= b.cfg.MaxDrawdownPct {
		return b.Trip(fmt.Sprintf("Maximum drawdown exceeded: %.2f%%", maxDrawdownPct*100))
	}
	return false
}

// ObserveVolatility trips the breaker on a volatility spike beyond the
// configured threshold.
func (b *Breaker) ObserveVolatility(volatility float64) bool {
	if b.cfg.VolatilitySpike > 0 && volatility >= b.cfg.VolatilitySpike {
		return b.Trip(fmt.Sprintf("Volatility spike detected: %.2f%%", volatility*100))
	}
	return false
}

// Trip opens the circuit with the given reason. Tripping an already-open
// breaker keeps the original reason and timestamp. Returns true when this
// call performed the transition.
func (b *Breaker) Trip(reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		return false
	}
	b.open = true
	b.reason = reason
	b.lastTrippedAt = b.now()
	b.logger.Warn("circuit breaker tripped", slog.String("reason", reason))
	return true
}

// Reset closes an open breaker, but only once the cooldown has elapsed since
// the trip. An early reset is a no-op returning false.
func (b *Breaker) Reset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}
	if b.now().Sub(b.lastTrippedAt) < b.cfg.CooldownPeriod {
		b.logger.Info("circuit breaker reset refused, cooldown active",
			slog.Time("tripped_at", b.lastTrippedAt))
		return false
	}
	b.open = false
	b.reason = ""
	b.logger.Info("circuit breaker reset")
	return true
}

// State returns a read-only snapshot.
func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.CircuitState{
		IsOpen:        b.open,
		Reason:        b.reason,
		LastTrippedAt: b.lastTrippedAt,
	}
}
