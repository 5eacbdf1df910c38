package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/ensemble"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/perf"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/risk"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/safety"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/signal"
)

// fakeGateway serves a flat market at a controllable price and fills every
// order instantly at that price.
type fakeGateway struct {
	mu         sync.Mutex
	price      float64
	fee        float64
	balances   map[string]float64
	fetchDelay time.Duration
	orders     []exchange.OrderRequest
}

func newFakeGateway(price float64) *fakeGateway {
	return &fakeGateway{
		price:    price,
		balances: map[string]float64{"USDT": 10000, "BTC": 10},
	}
}

func (f *fakeGateway) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *fakeGateway) Connect(context.Context) error    { return nil }
func (f *fakeGateway) IsConnected(context.Context) bool { return true }

func (f *fakeGateway) Ping(context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

func (f *fakeGateway) FetchMarketWindow(ctx context.Context, instrument, timeframe string, limit int) (domain.MarketWindow, error) {
	f.mu.Lock()
	price := f.price
	delay := f.fetchDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	candles := make([]domain.Candle, 30)
	base := time.Now().UTC().Add(-30 * time.Minute)
	for i := range candles {
		candles[i] = domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		}
	}
	return domain.MarketWindow{
		Instrument: instrument,
		Timeframe:  timeframe,
		Candles:    candles,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (f *fakeGateway) FetchBalance(context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return domain.OrderResult{
		OrderID:     "order-1",
		Status:      domain.OrderStatusFilled,
		FilledPrice: f.price,
		FilledSize:  req.Amount,
		Fee:         f.fee,
		PlacedAt:    time.Now().UTC(),
	}, nil
}

func (f *fakeGateway) FetchOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	return domain.OrderResult{OrderID: orderID, Status: domain.OrderStatusFilled}, nil
}

func (f *fakeGateway) Quota(context.Context) (int, time.Time, error) {
	return 5000, time.Now().Add(time.Minute), nil
}

// scriptProvider votes whatever the test tells it to.
type scriptProvider struct {
	mu     sync.Mutex
	action domain.Action
	conf   float64
}

func (s *scriptProvider) Name() string { return "script" }

func (s *scriptProvider) set(action domain.Action, conf float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.action = action
	s.conf = conf
}

func (s *scriptProvider) Predict(ctx context.Context, window domain.MarketWindow) (domain.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Vote{Source: s.Name(), Action: s.action, Confidence: s.conf}, nil
}

// memTradeStore captures inserted trades.
type memTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *memTradeStore) Insert(ctx context.Context, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *memTradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	for _, t := range trades {
		_ = s.Insert(ctx, t)
	}
	return nil
}

func (s *memTradeStore) ListByBot(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTradeStore) ListSettledBefore(context.Context, time.Time, int) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTradeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *memTradeStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.trades)), nil
}

func (s *memTradeStore) all() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

type harness struct {
	orch     *Orchestrator
	gateway  *fakeGateway
	provider *scriptProvider
	breaker  *risk.Breaker
	tracker  *signal.AccuracyTracker
	store    *memTradeStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gw := newFakeGateway(100)
	guard := exchange.NewGuard(gw, exchange.DefaultGuardConfig(), logger)

	provider := &scriptProvider{action: domain.ActionHold}
	registry := signal.NewRegistry()
	registry.Register(provider)
	tracker := signal.NewAccuracyTracker(50)
	querier := signal.NewQuerier(registry, tracker, time.Second, logger)

	riskMgr := risk.NewManager(risk.DefaultLimits(), 10000, logger)
	breaker := risk.NewBreaker(risk.BreakerConfig{
		MaxDailyLossPct: 0.05,
		MaxDrawdownPct:  0.15,
		VolatilitySpike: 0.08,
		CooldownPeriod:  time.Minute,
	}, logger)
	safetyMon := safety.NewMonitor(safety.Config{
		CheckInterval: time.Minute,
		MaxLatencyMs:  2000,
		MinQuota:      10,
	}, gw, logger)
	perfMon := perf.NewMonitor(perf.Config{
		WindowSize:      1000,
		RiskFreeRate:    0.02,
		MinWinRate:      0.40,
		MinProfitFactor: 1.0,
		MaxDrawdownPct:  0.15,
	}, logger)

	store := &memTradeStore{}
	orch := New(Deps{
		Guard:    guard,
		Querier:  querier,
		Combiner: ensemble.New(),
		Risk:     riskMgr,
		Breaker:  breaker,
		Safety:   safetyMon,
		Perf:     perfMon,
		Tracker:  tracker,
		Registry: registry,
		Trades:   store,
	}, Config{}, logger)

	require.NoError(t, orch.AddBot(domain.Bot{
		ID:         "bot-1",
		Instrument: "BTC/USDT",
		Timeframe:  "1m",
		Mode:       domain.BotModePaper,
		Config: domain.BotConfig{
			MaxPositionSize: 5,
			StopLossPct:     0.02,
			TakeProfitPct:   0.04,
			RiskPerTrade:    0.02,
		},
	}, time.Hour))

	return &harness{
		orch:     orch,
		gateway:  gw,
		provider: provider,
		breaker:  breaker,
		tracker:  tracker,
		store:    store,
	}
}

func (h *harness) runtime(t *testing.T) *botRuntime {
	t.Helper()
	h.orch.mu.Lock()
	defer h.orch.mu.Unlock()
	rt, ok := h.orch.bots["bot-1"]
	if !ok {
		t.Fatal("bot-1 not registered")
	}
	return rt
}

func TestCycleOpensPositionOnBuySignal(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.provider.set(domain.ActionBuy, 1)
	require.NoError(t, rt.cycle(context.Background()))

	view, err := h.orch.Bot("bot-1")
	require.NoError(t, err)
	require.NotNil(t, view.Position)

	// No history: sizing falls back to riskPerTrade. 10000 x 0.02 at price
	// 100 with ranging-regime stop 1% and a 2:1 target.
	assert.InDelta(t, 2, view.Position.Amount, 1e-9)
	assert.InDelta(t, 100, view.Position.EntryPrice, 1e-9)
	assert.InDelta(t, 99, view.Position.StopLoss, 1e-9)
	assert.InDelta(t, 102, view.Position.TakeProfit, 1e-9)

	// Reservation reconciled against the fill.
	assert.Zero(t, h.orch.deps.Guard.Reserved())

	trades := h.store.all()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.OrderSideBuy, trades[0].Side)
	assert.Empty(t, trades[0].ExitReason)
}

func TestTakeProfitExitSettlesTrade(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.provider.set(domain.ActionBuy, 1)
	require.NoError(t, rt.cycle(context.Background()))
	require.NotNil(t, h.runtime(t).position)

	h.gateway.setPrice(102)
	require.NoError(t, rt.cycle(context.Background()))

	view, err := h.orch.Bot("bot-1")
	require.NoError(t, err)
	assert.Nil(t, view.Position)

	trades := h.store.all()
	require.Len(t, trades, 2)
	exit := trades[1]
	assert.Equal(t, domain.ExitTakeProfit, exit.ExitReason)
	assert.InDelta(t, 4, exit.RealizedPnL, 1e-9) // (102-100) x 2

	// The buy vote that opened the trade was right; its weight doubles.
	assert.InDelta(t, 2, h.tracker.Weight("script"), 1e-9)

	metrics := h.orch.deps.Perf.Metrics()
	assert.Equal(t, 1, metrics.TotalTrades)
	assert.InDelta(t, 4, metrics.TotalPnL, 1e-9)
}

func TestStopLossExitBeforeNewEntry(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.provider.set(domain.ActionBuy, 1)
	require.NoError(t, rt.cycle(context.Background()))

	// Price below the stop with the signal still saying buy: the cycle exits
	// and does not re-enter.
	h.gateway.setPrice(98)
	require.NoError(t, rt.cycle(context.Background()))

	view, err := h.orch.Bot("bot-1")
	require.NoError(t, err)
	assert.Nil(t, view.Position)

	trades := h.store.all()
	require.Len(t, trades, 2)
	assert.Equal(t, domain.ExitStopLoss, trades[1].ExitReason)
	assert.InDelta(t, -4, trades[1].RealizedPnL, 1e-9)
}

func TestSellSignalClosesPosition(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.provider.set(domain.ActionBuy, 1)
	require.NoError(t, rt.cycle(context.Background()))

	h.gateway.setPrice(101)
	h.provider.set(domain.ActionSell, 1)
	require.NoError(t, rt.cycle(context.Background()))

	trades := h.store.all()
	require.Len(t, trades, 2)
	assert.Equal(t, domain.ExitSignal, trades[1].ExitReason)
	assert.InDelta(t, 2, trades[1].RealizedPnL, 1e-9)
}

func TestOpenBreakerBlocksEntriesButNotExits(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.provider.set(domain.ActionBuy, 1)
	require.NoError(t, rt.cycle(context.Background()))
	require.NotNil(t, h.runtime(t).position)

	require.True(t, h.breaker.Trip("Daily loss limit exceeded: 5.00%"))

	// Exit still runs while the breaker is open.
	h.gateway.setPrice(90)
	require.NoError(t, rt.cycle(context.Background()))
	assert.Nil(t, h.runtime(t).position)

	// But a new entry is refused and the reason surfaces on the bot.
	require.NoError(t, rt.cycle(context.Background()))
	view, err := h.orch.Bot("bot-1")
	require.NoError(t, err)
	assert.Nil(t, view.Position)
	assert.Equal(t, "Daily loss limit exceeded: 5.00%", view.Bot.HaltReason)
}

func TestConcurrentCyclesSkipNotQueue(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.gateway.fetchDelay = 50 * time.Millisecond
	h.provider.set(domain.ActionBuy, 1)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = rt.cycle(context.Background())
		}(i)
	}
	wg.Wait()

	ran, skipped := 0, 0
	for _, err := range errs {
		switch err {
		case nil:
			ran++
		case domain.ErrLockHeld:
			skipped++
		default:
			t.Fatalf("unexpected cycle error: %v", err)
		}
	}
	assert.GreaterOrEqual(t, ran, 1)
	assert.Equal(t, 5, ran+skipped)
	assert.GreaterOrEqual(t, skipped, 1, "overlapping ticks skip rather than queue")

	// Whatever interleaving happened, only one entry order reached the venue.
	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	assert.Len(t, h.gateway.orders, 1)
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartBot(ctx, "bot-1"))
	err := h.orch.StartBot(ctx, "bot-1")
	require.ErrorIs(t, err, domain.ErrBotRunning)

	view, err := h.orch.Bot("bot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusRunning, view.Bot.Status)
	assert.NotNil(t, view.Bot.StartedAt)

	require.NoError(t, h.orch.StopBot("bot-1"))
	err = h.orch.StopBot("bot-1")
	require.ErrorIs(t, err, domain.ErrBotStopped)

	view, err = h.orch.Bot("bot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusStopped, view.Bot.Status)
	assert.NotNil(t, view.Bot.StoppedAt)
}

func TestStartedBotSurvivesCallerContextCancel(t *testing.T) {
	h := newHarness(t)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()
	h.orch.BindContext(appCtx)

	// A control request's context ends the moment the handler returns; the
	// run loop must not die with it.
	reqCtx, reqCancel := context.WithCancel(context.Background())
	require.NoError(t, h.orch.StartBot(reqCtx, "bot-1"))
	reqCancel()

	rt := h.runtime(t)
	rt.mu.Lock()
	done := rt.done
	rt.mu.Unlock()

	select {
	case <-done:
		t.Fatal("run loop exited with the caller's context")
	case <-time.After(50 * time.Millisecond):
	}

	view, err := h.orch.Bot("bot-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusRunning, view.Bot.Status)

	require.NoError(t, h.orch.StopBot("bot-1"))
}

func TestRealizedPnLIncludesBothFees(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.gateway.fee = 0.5
	h.provider.set(domain.ActionBuy, 1)
	require.NoError(t, rt.cycle(context.Background()))

	// The entry row records its fee but realizes nothing yet.
	trades := h.store.all()
	require.Len(t, trades, 1)
	assert.InDelta(t, 0.5, trades[0].Fee, 1e-9)
	assert.Zero(t, trades[0].RealizedPnL)

	h.gateway.setPrice(102)
	require.NoError(t, rt.cycle(context.Background()))

	trades = h.store.all()
	require.Len(t, trades, 2)
	exit := trades[1]
	// (102-100) x 2 minus the entry and exit fees.
	assert.InDelta(t, 3, exit.RealizedPnL, 1e-9)

	// The tracked balance moves by exactly the realized amount, so it cannot
	// drift from the venue balance over round trips.
	assert.InDelta(t, 10003, h.orch.deps.Risk.Balance(), 1e-9)
}

func TestUnknownBotErrors(t *testing.T) {
	h := newHarness(t)

	err := h.orch.StartBot(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	err = h.orch.StopBot("nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDuplicateBotRejected(t *testing.T) {
	h := newHarness(t)

	err := h.orch.AddBot(domain.Bot{
		ID:         "bot-1",
		Instrument: "ETH/USDT",
		Timeframe:  "1m",
		Mode:       domain.BotModePaper,
		Config: domain.BotConfig{
			MaxPositionSize: 1,
			RiskPerTrade:    0.01,
		},
	}, time.Hour)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSystemStatusSnapshot(t *testing.T) {
	h := newHarness(t)
	rt := h.runtime(t)

	h.breaker.Trip("Volatility spike detected: 9.00%")
	h.provider.set(domain.ActionBuy, 1)
	require.NoError(t, rt.cycle(context.Background()))

	status := h.orch.SystemStatus()
	require.Len(t, status.Bots, 1)
	assert.True(t, status.Circuit.IsOpen)
	assert.Equal(t, "Volatility spike detected: 9.00%", status.Circuit.Reason)
	assert.Equal(t, "Volatility spike detected: 9.00%", status.Bots[0].Bot.HaltReason)
	assert.InDelta(t, 10000, status.Risk.Balance, 1e-9)
}

func TestResetCircuitBreakerHonorsCooldown(t *testing.T) {
	h := newHarness(t)

	h.breaker.Trip("Exchange connection lost")
	assert.False(t, h.orch.ResetCircuitBreaker(), "cooldown still active")
	assert.True(t, h.orch.SystemStatus().Circuit.IsOpen)
}
