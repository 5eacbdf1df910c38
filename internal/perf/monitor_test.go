package perf

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

func newTestMonitor(window int) *Monitor {
	return NewMonitor(Config{
		WindowSize:      window,
		RiskFreeRate:    0.02,
		MinWinRate:      0.40,
		MinProfitFactor: 1.0,
		MaxDrawdownPct:  0.15,
	}, slog.Default())
}

func trade(pnl float64) domain.Trade {
	return domain.Trade{
		BotID:       "bot-1",
		RealizedPnL: pnl,
		ExitReason:  domain.ExitSignal,
		Timestamp:   time.Now().UTC(),
	}
}

func TestRecordComputesRollingStats(t *testing.T) {
	m := newTestMonitor(100)

	for _, pnl := range []float64{100, -50, 200, -50, 100} {
		m.Record(trade(pnl))
	}

	got := m.Metrics()
	assert.Equal(t, 5, got.TotalTrades)
	assert.InDelta(t, 0.6, got.WinRate, 1e-9)
	assert.InDelta(t, 400.0/3, got.AvgWin, 1e-9)
	assert.InDelta(t, 50, got.AvgLoss, 1e-9)
	assert.InDelta(t, 4.0, got.ProfitFactor, 1e-9)
	assert.InDelta(t, 300, got.TotalPnL, 1e-9)
	assert.Equal(t, 1, got.ConsecutiveWins)
	assert.Zero(t, got.ConsecutiveLosses)
	assert.Greater(t, got.SharpeRatio, 0.0)
}

func TestWindowBoundsTradeCount(t *testing.T) {
	m := newTestMonitor(10)
	for i := 0; i < 25; i++ {
		m.Record(trade(10))
	}
	assert.Equal(t, 10, m.Metrics().TotalTrades)
}

func TestConsecutiveLossTracking(t *testing.T) {
	m := newTestMonitor(100)
	m.Record(trade(50))
	m.Record(trade(-10))
	m.Record(trade(-10))
	m.Record(trade(-10))

	got := m.Metrics()
	assert.Equal(t, 3, got.ConsecutiveLosses)
	assert.Zero(t, got.ConsecutiveWins)
}

func TestNoAlertsUnderMinimumSample(t *testing.T) {
	m := newTestMonitor(100)
	for i := 0; i < 9; i++ {
		m.Record(trade(-100))
	}
	assert.Empty(t, m.Alerts(), "fewer than 10 trades never alerts")
}

func TestDrawdownMeasuredFromStartingEquity(t *testing.T) {
	m := NewMonitor(Config{
		WindowSize:      100,
		MinWinRate:      0.40,
		MinProfitFactor: 1.0,
		MaxDrawdownPct:  0.15,
		InitialEquity:   1000,
	}, slog.Default())

	tripped := false
	m.OnPoorPerformance(func(string) { tripped = true })

	// A losing streak from a fresh start draws down against the starting
	// balance, with no profitable stretch needed first.
	for i := 0; i < 10; i++ {
		m.Record(trade(-20))
	}

	got := m.Metrics()
	assert.InDelta(t, -0.2, got.MaxDrawdown, 1e-9)
	assert.Contains(t, m.Alerts(), "drawdown above maximum")
	assert.True(t, tripped)
}

func TestPoorPerformanceTripsBreaker(t *testing.T) {
	m := newTestMonitor(100)

	var reason string
	m.OnPoorPerformance(func(r string) { reason = r })

	// Ten straight losses: win rate 0 and profit factor 0 both alert.
	var alerts []string
	for i := 0; i < 10; i++ {
		alerts = m.Record(trade(-100))
	}

	require.GreaterOrEqual(t, len(alerts), 2)
	require.NotEmpty(t, reason)
	assert.Contains(t, reason, "Poor overall performance")
}

func TestSingleAlertDoesNotTrip(t *testing.T) {
	m := newTestMonitor(100)

	tripped := false
	m.OnPoorPerformance(func(string) { tripped = true })

	// Profitable overall but a sub-minimum win rate: one alert only.
	for i := 0; i < 8; i++ {
		m.Record(trade(-10))
	}
	for i := 0; i < 4; i++ {
		m.Record(trade(500))
	}

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.False(t, tripped)
}
