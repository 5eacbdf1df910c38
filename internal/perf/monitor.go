// Package perf maintains rolling trade statistics and raises alerts that
// feed back into the circuit breaker.
package perf

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// tradingDaysPerYear annualizes the per-trade Sharpe ratio.
const tradingDaysPerYear = 252

// Config holds the window size and alert thresholds.
type Config struct {
	WindowSize      int
	RiskFreeRate    float64 // annual, e.g. 0.02
	MinWinRate      float64
	MinProfitFactor float64
	MaxDrawdownPct  float64

	// InitialEquity seeds the equity curve so drawdown is measured from the
	// starting balance, not from the first profitable stretch.
	InitialEquity float64
}

// Monitor keeps a bounded rolling window of settled trades and recomputes
// the headline statistics on every settlement. When two or more alert
// conditions hold at once it asks the circuit breaker to trip.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	// onPoorPerformance is invoked outside the lock when >= 2 alerts fire
	// simultaneously. Wired to Breaker.Trip.
	onPoorPerformance func(reason string)

	mu      sync.Mutex
	trades  []domain.Trade
	metrics domain.PerformanceMetrics
	equity  float64
	peak    float64
}

// NewMonitor returns an empty monitor.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1000
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "perf_monitor")),
		equity: cfg.InitialEquity,
		peak:   cfg.InitialEquity,
	}
}

// OnPoorPerformance registers the poor-performance trip callback. Must be
// called before the first Record.
func (m *Monitor) OnPoorPerformance(fn func(reason string)) {
	m.onPoorPerformance = fn
}

// Record adds one settled trade, recomputes the rolling statistics and
// returns the active alerts.
func (m *Monitor) Record(trade domain.Trade) []string {
	m.mu.Lock()

	m.trades = append(m.trades, trade)
	if len(m.trades) > m.cfg.WindowSize {
		m.trades = m.trades[len(m.trades)-m.cfg.WindowSize:]
	}

	m.equity += trade.RealizedPnL
	if m.equity > m.peak {
		m.peak = m.equity
	}

	m.recomputeLocked()
	metrics := m.metrics
	alerts := m.alertsLocked()
	m.mu.Unlock()

	if len(alerts) >= 2 && m.onPoorPerformance != nil {
		reason := "Poor overall performance: " + alerts[0] + "; " + alerts[1]
		m.logger.Warn("performance degradation",
			slog.Int("alerts", len(alerts)),
			slog.Float64("win_rate", metrics.WinRate),
			slog.Float64("profit_factor", metrics.ProfitFactor))
		m.onPoorPerformance(reason)
	}
	return alerts
}

// Metrics returns the latest statistics snapshot.
func (m *Monitor) Metrics() domain.PerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Alerts returns the currently active alert conditions.
func (m *Monitor) Alerts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alertsLocked()
}

func (m *Monitor) recomputeLocked() {
	var (
		wins, losses        int
		grossWin, grossLoss float64
		totalPnL            float64
		returns             []float64
	)

	consecWins, consecLosses := 0, 0
	for _, t := range m.trades {
		pnl := t.RealizedPnL
		totalPnL += pnl
		returns = append(returns, pnl)
		switch {
		case pnl > 0:
			wins++
			grossWin += pnl
			consecWins++
			consecLosses = 0
		case pnl < 0:
			losses++
			grossLoss += -pnl
			consecLosses++
			consecWins = 0
		}
	}

	n := len(m.trades)
	metrics := domain.PerformanceMetrics{
		TotalTrades:       n,
		TotalPnL:          totalPnL,
		ConsecutiveWins:   consecWins,
		ConsecutiveLosses: consecLosses,
		ComputedAt:        time.Now().UTC(),
	}
	if n > 0 {
		metrics.WinRate = float64(wins) / float64(n)
	}
	if wins > 0 {
		metrics.AvgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		metrics.AvgLoss = grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		metrics.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		metrics.ProfitFactor = math.Inf(1)
	}
	metrics.SharpeRatio = m.sharpe(returns)
	if m.peak > 0 {
		metrics.MaxDrawdown = (m.equity - m.peak) / m.peak
	}

	m.metrics = metrics
}

// sharpe computes the annualized Sharpe ratio of per-trade PnL against the
// per-day risk-free rate.
func (m *Monitor) sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	stddev := math.Sqrt(ss / float64(len(returns)-1))
	if stddev == 0 {
		return 0
	}
	rfPerTrade := m.cfg.RiskFreeRate / tradingDaysPerYear
	return (mean - rfPerTrade) / stddev * math.Sqrt(tradingDaysPerYear)
}

func (m *Monitor) alertsLocked() []string {
	// Too few trades to judge.
	if m.metrics.TotalTrades < 10 {
		return nil
	}

	var alerts []string
	if m.metrics.WinRate < m.cfg.MinWinRate {
		alerts = append(alerts, "win rate below minimum")
	}
	if m.metrics.ProfitFactor < m.cfg.MinProfitFactor {
		alerts = append(alerts, "profit factor below minimum")
	}
	if math.Abs(m.metrics.MaxDrawdown) > m.cfg.MaxDrawdownPct {
		alerts = append(alerts, "drawdown above maximum")
	}
	return alerts
}
