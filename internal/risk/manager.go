// Package risk sizes positions, derives exit distances and gates trade
// admission against portfolio-wide loss limits.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// Limits are the portfolio risk thresholds the manager enforces.
// Percentages are fractions (0.05 = 5%).
type Limits struct {
	MaxDrawdownPct       float64
	MaxConsecutiveLosses int
	MaxPortfolioHeatPct  float64
	MaxVaRPct            float64
	MaxPositionSizePct   float64
	MinStopPct           float64
}

// DefaultLimits mirror the config defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDrawdownPct:       0.15,
		MaxConsecutiveLosses: 5,
		MaxPortfolioHeatPct:  0.20,
		MaxVaRPct:            0.10,
		MaxPositionSizePct:   0.10,
		MinStopPct:           0.01,
	}
}

// Manager owns the shared RiskState. Multiple bot cycles settle trades into
// it concurrently; all mutation happens under one mutex.
type Manager struct {
	limits Limits
	logger *slog.Logger

	mu              sync.Mutex
	state           domain.RiskState
	dayStartBalance float64
	// returns holds recent trade returns for the VaR estimate; openRisk maps
	// botID to currency at risk on that bot's open position.
	returns  []float64
	openRisk map[string]float64
}

// NewManager returns a risk manager starting from the given balance.
func NewManager(limits Limits, balance float64, logger *slog.Logger) *Manager {
	return &Manager{
		limits: limits,
		logger: logger.With(slog.String("component", "risk_manager")),
		state: domain.RiskState{
			Balance:       balance,
			HighWaterMark: balance,
			UpdatedAt:     time.Now().UTC(),
		},
		dayStartBalance: balance,
		openRisk:        make(map[string]float64),
	}
}

// KellyFraction computes the canonical Kelly formula
// f = winRate - (1-winRate)/(avgWin/avgLoss), clamped to [0, 0.5]. A zero
// avgLoss yields 0 rather than a division blowup.
func (m *Manager) KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 || avgWin <= 0 {
		return 0
	}
	payoff := avgWin / avgLoss
	f := winRate - (1-winRate)/payoff
	if f < 0 {
		return 0
	}
	if f > 0.5 {
		return 0.5
	}
	return f
}

// OptimalPositionSize scales balance x kelly by volatility, confidence and
// correlation adjustments, then caps the result at the max position share of
// balance.
func (m *Manager) OptimalPositionSize(balance, kelly, volatility, confidence, correlation float64) float64 {
	volAdj := clamp(1/(1+volatility), 0.5, 1.5)
	confAdj := confidence * confidence
	corrAdj := math.Max(0.5, 1-0.5*math.Abs(correlation))

	size := balance * kelly * volAdj * confAdj * corrAdj

	maxSize := balance * m.limits.MaxPositionSizePct
	if size > maxSize {
		size = maxSize
	}
	if size < 0 {
		size = 0
	}
	return size
}

// DynamicStopLoss widens the stop with volatility, floored at the minimum
// stop, and half again wider in a volatile regime.
func (m *Manager) DynamicStopLoss(volatility float64, regime domain.Regime) float64 {
	distance := math.Max(m.limits.MinStopPct, volatility*2)
	if regime == domain.RegimeVolatile {
		distance *= 1.5
	}
	return distance
}

// TakeProfit derives the target distance from the stop distance and the
// regime's risk:reward ratio.
func (m *Manager) TakeProfit(stopLossDistance float64, regime domain.Regime) float64 {
	return stopLossDistance * riskRewardRatio(regime)
}

func riskRewardRatio(regime domain.Regime) float64 {
	switch regime {
	case domain.RegimeTrending:
		return 3
	case domain.RegimeRanging:
		return 2
	case domain.RegimeVolatile:
		return 2.5
	default:
		return 2
	}
}

// ShouldStopTrading reports whether new entries must halt, with the specific
// limit that tripped. It runs before every entry decision; exits are never
// gated by it.
func (m *Manager) ShouldStopTrading() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if math.Abs(m.state.CurrentDrawdown) > m.limits.MaxDrawdownPct {
		return true, fmt.Sprintf("Maximum drawdown exceeded: %.2f%%", math.Abs(m.state.CurrentDrawdown)*100)
	}
	if m.state.ConsecutiveLosses >= m.limits.MaxConsecutiveLosses {
		return true, fmt.Sprintf("Too many consecutive losses: %d", m.state.ConsecutiveLosses)
	}
	if m.state.PortfolioHeat > m.limits.MaxPortfolioHeatPct {
		return true, fmt.Sprintf("Portfolio heat too high: %.2f%%", m.state.PortfolioHeat*100)
	}
	if math.Abs(m.state.VaR95) > m.limits.MaxVaRPct {
		return true, fmt.Sprintf("VaR limit exceeded: %.2f%%", math.Abs(m.state.VaR95)*100)
	}
	return false, ""
}

// Reserve records currency at risk for a bot's pending entry so portfolio
// heat reflects it before the fill lands.
func (m *Manager) Reserve(botID string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openRisk[botID] = amount
	m.recomputeHeatLocked()
}

// Release drops a bot's open-risk reservation after its position closes or
// its order fails.
func (m *Manager) Release(botID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.openRisk, botID)
	m.recomputeHeatLocked()
}

// Settle applies a settled trade's realized PnL to the shared state and
// returns the updated snapshot. Only exits carry PnL; entries settle with
// RealizedPnL zero and leave loss counters untouched.
func (m *Manager) Settle(trade domain.Trade) domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	pnl := trade.RealizedPnL
	m.state.Balance += pnl

	if m.state.Balance > m.state.HighWaterMark {
		m.state.HighWaterMark = m.state.Balance
	}
	if m.state.HighWaterMark > 0 {
		m.state.CurrentDrawdown = (m.state.Balance - m.state.HighWaterMark) / m.state.HighWaterMark
	}
	if m.state.CurrentDrawdown < m.state.MaxDrawdown {
		m.state.MaxDrawdown = m.state.CurrentDrawdown
	}

	if trade.ExitReason != "" {
		if pnl < 0 {
			m.state.ConsecutiveLosses++
			m.state.DailyLoss += -pnl
		} else if pnl > 0 {
			m.state.ConsecutiveLosses = 0
		}
		if m.dayStartBalance > 0 {
			m.returns = append(m.returns, pnl/m.dayStartBalance)
			if len(m.returns) > 250 {
				m.returns = m.returns[len(m.returns)-250:]
			}
		}
		m.state.VaR95 = valueAtRisk95(m.returns)
	}

	m.state.UpdatedAt = time.Now().UTC()
	return m.state
}

// DailyLossPct is the accumulated daily loss as a fraction of the balance at
// the last daily boundary.
func (m *Manager) DailyLossPct() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dayStartBalance <= 0 {
		return 0
	}
	return m.state.DailyLoss / m.dayStartBalance
}

// RolloverDaily resets the daily loss accumulator at the day boundary. The
// circuit breaker's open/closed state is deliberately untouched.
func (m *Manager) RolloverDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DailyLoss = 0
	m.dayStartBalance = m.state.Balance
	m.logger.Info("daily risk counters reset",
		slog.Float64("balance", m.state.Balance))
}

// UpdateKelly stores the latest Kelly estimate for status reporting.
func (m *Manager) UpdateKelly(f float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.KellyFraction = f
}

// State returns a copy of the current risk state.
func (m *Manager) State() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Balance returns the current tracked balance.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Balance
}

func (m *Manager) recomputeHeatLocked() {
	var total float64
	for _, r := range m.openRisk {
		total += r
	}
	if m.state.Balance > 0 {
		m.state.PortfolioHeat = total / m.state.Balance
	} else {
		m.state.PortfolioHeat = 0
	}
}

// valueAtRisk95 is the 5th percentile of recent trade returns, or 0 with
// fewer than 20 samples.
func valueAtRisk95(returns []float64) float64 {
	if len(returns) < 20 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.05)
	return sorted[idx]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
