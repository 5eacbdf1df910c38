package risk

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

func newTestManager(balance float64) *Manager {
	return NewManager(DefaultLimits(), balance, slog.Default())
}

func TestKellyFractionScenario(t *testing.T) {
	m := newTestManager(10000)
	// winRate 0.6, payoff 120/80 = 1.5 -> 0.6 - 0.4/1.5
	f := m.KellyFraction(0.6, 120, 80)
	assert.InDelta(t, 0.3333, f, 1e-4)
}

func TestKellyFractionClamped(t *testing.T) {
	m := newTestManager(10000)

	assert.Zero(t, m.KellyFraction(0.5, 100, 0), "zero avgLoss")
	assert.Zero(t, m.KellyFraction(0.1, 50, 100), "negative edge clamps to 0")
	assert.Equal(t, 0.5, m.KellyFraction(0.99, 1000, 1), "extreme edge clamps to half-Kelly")

	for _, wr := range []float64{0, 0.25, 0.5, 0.75, 1} {
		for _, win := range []float64{1, 50, 500} {
			for _, loss := range []float64{0, 1, 80, 500} {
				f := m.KellyFraction(wr, win, loss)
				assert.GreaterOrEqual(t, f, 0.0)
				assert.LessOrEqual(t, f, 0.5)
			}
		}
	}
}

func TestOptimalPositionSizeAdjustments(t *testing.T) {
	m := newTestManager(10000)

	// kelly 0.05 keeps the raw size under the 10% cap:
	// 10000 * 0.05 * 1/(1+0.25) * 0.8^2 * (1 - 0.5*0.5) = 192
	size := m.OptimalPositionSize(10000, 0.05, 0.25, 0.8, 0.5)
	assert.InDelta(t, 192, size, 1e-9)

	// Full Kelly with full confidence blows through the cap.
	size = m.OptimalPositionSize(10000, 0.5, 0, 1, 0)
	assert.InDelta(t, 1000, size, 1e-9)

	// Volatility adjustment clamps at 0.5 for very rough markets.
	size = m.OptimalPositionSize(10000, 0.01, 10, 1, 0)
	assert.InDelta(t, 10000*0.01*0.5, size, 1e-9)
}

func TestDynamicStopLoss(t *testing.T) {
	m := newTestManager(10000)

	assert.InDelta(t, 0.01, m.DynamicStopLoss(0.001, domain.RegimeRanging), 1e-9, "floored at min stop")
	assert.InDelta(t, 0.04, m.DynamicStopLoss(0.02, domain.RegimeTrending), 1e-9)
	assert.InDelta(t, 0.06, m.DynamicStopLoss(0.02, domain.RegimeVolatile), 1e-9, "volatile widens 1.5x")
}

func TestTakeProfitRatios(t *testing.T) {
	m := newTestManager(10000)

	assert.InDelta(t, 0.06, m.TakeProfit(0.02, domain.RegimeTrending), 1e-9)
	assert.InDelta(t, 0.04, m.TakeProfit(0.02, domain.RegimeRanging), 1e-9)
	assert.InDelta(t, 0.05, m.TakeProfit(0.02, domain.RegimeVolatile), 1e-9)
	assert.InDelta(t, 0.04, m.TakeProfit(0.02, domain.RegimeUnknown), 1e-9)
}

func exitTrade(pnl float64) domain.Trade {
	return domain.Trade{
		ID:          "t",
		BotID:       "bot-1",
		Side:        domain.OrderSideSell,
		RealizedPnL: pnl,
		ExitReason:  domain.ExitSignal,
		Timestamp:   time.Now().UTC(),
	}
}

func TestSettleTracksDrawdownAndLossStreak(t *testing.T) {
	m := newTestManager(10000)

	st := m.Settle(exitTrade(-500))
	assert.InDelta(t, -0.05, st.CurrentDrawdown, 1e-9)
	assert.Equal(t, 1, st.ConsecutiveLosses)
	assert.InDelta(t, 500, st.DailyLoss, 1e-9)

	st = m.Settle(exitTrade(-500))
	assert.Equal(t, 2, st.ConsecutiveLosses)
	assert.InDelta(t, 1000, st.DailyLoss, 1e-9)

	st = m.Settle(exitTrade(2000))
	assert.Zero(t, st.ConsecutiveLosses)
	assert.Greater(t, st.Balance, 10000.0)
	assert.Zero(t, st.CurrentDrawdown, "new high water mark")
	assert.InDelta(t, -0.10, st.MaxDrawdown, 1e-9, "worst drawdown retained")
}

func TestShouldStopTradingReasons(t *testing.T) {
	m := newTestManager(10000)
	stop, _ := m.ShouldStopTrading()
	require.False(t, stop)

	// Push drawdown past 15%.
	m.Settle(exitTrade(-2000))
	stop, reason := m.ShouldStopTrading()
	require.True(t, stop)
	assert.Contains(t, reason, "Maximum drawdown exceeded: 20.00%")
}

func TestShouldStopTradingConsecutiveLosses(t *testing.T) {
	m := newTestManager(100000)
	for i := 0; i < 5; i++ {
		m.Settle(exitTrade(-10))
	}
	stop, reason := m.ShouldStopTrading()
	require.True(t, stop)
	assert.Contains(t, reason, "Too many consecutive losses: 5")
}

func TestPortfolioHeatFromReservations(t *testing.T) {
	m := newTestManager(10000)
	m.Reserve("bot-1", 1500)
	m.Reserve("bot-2", 1000)

	stop, reason := m.ShouldStopTrading()
	require.True(t, stop)
	assert.Contains(t, reason, "Portfolio heat too high: 25.00%")

	m.Release("bot-1")
	stop, _ = m.ShouldStopTrading()
	assert.False(t, stop)
}

func TestDailyRollover(t *testing.T) {
	m := newTestManager(10000)
	m.Settle(exitTrade(-400))
	assert.InDelta(t, 0.04, m.DailyLossPct(), 1e-9)

	m.RolloverDaily()
	assert.Zero(t, m.DailyLossPct())
	// New day baseline is the post-loss balance.
	m.Settle(exitTrade(-480))
	assert.InDelta(t, 0.05, m.DailyLossPct(), 1e-9)
}
