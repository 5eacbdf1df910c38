package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/risk"
)

// windowLimit is how many candles a cycle works from.
const windowLimit = 100

// feedbackReceiver is implemented by providers that learn from settled
// trades.
type feedbackReceiver interface {
	Feedback(realized float64)
}

// botRuntime is the per-bot execution state. The position and the votes that
// opened it live here, guarded by mu; the cycle itself is serialized by the
// inFlight flag so overlapping ticks skip rather than queue.
type botRuntime struct {
	o        *Orchestrator
	interval time.Duration
	logger   *slog.Logger

	inFlight atomic.Bool

	mu         sync.Mutex
	bot        domain.Bot
	position   *domain.Position
	entryVotes []domain.Vote
	cancel     context.CancelFunc
	done       chan struct{}
}

func newBotRuntime(bot domain.Bot, interval time.Duration, o *Orchestrator) *botRuntime {
	return &botRuntime{
		o:        o,
		interval: interval,
		logger:   o.logger.With(slog.String("bot_id", bot.ID)),
		bot:      bot,
	}
}

func (rt *botRuntime) start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.bot.Status == domain.BotStatusRunning {
		return fmt.Errorf("orchestrator: bot %s: %w", rt.bot.ID, domain.ErrBotRunning)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	rt.done = make(chan struct{})
	now := time.Now().UTC()
	rt.bot.Status = domain.BotStatusRunning
	rt.bot.StartedAt = &now
	rt.bot.StoppedAt = nil
	rt.bot.HaltReason = ""

	go rt.runLoop(loopCtx)
	rt.logger.Info("bot started", slog.String("instrument", rt.bot.Instrument))
	return nil
}

func (rt *botRuntime) stop() error {
	rt.mu.Lock()
	if rt.bot.Status != domain.BotStatusRunning {
		rt.mu.Unlock()
		return fmt.Errorf("orchestrator: bot %s: %w", rt.bot.ID, domain.ErrBotStopped)
	}
	cancel, done := rt.cancel, rt.done
	rt.mu.Unlock()

	cancel()
	<-done

	rt.mu.Lock()
	now := time.Now().UTC()
	rt.bot.Status = domain.BotStatusStopped
	rt.bot.StoppedAt = &now
	rt.mu.Unlock()

	rt.logger.Info("bot stopped")
	return nil
}

func (rt *botRuntime) view() BotView {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	view := BotView{Bot: rt.bot}
	if rt.position != nil {
		pos := *rt.position
		view.Position = &pos
	}
	return view
}

// runLoop drives cycles on the bot's interval. Cycles run synchronously so a
// stop waits for any in-flight order flow; ticks that arrive while a cycle
// runs are drained and dropped afterwards.
func (rt *botRuntime) runLoop(ctx context.Context) {
	defer close(rt.done)

	ticker := time.NewTicker(rt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.cycle(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Error("cycle failed", slog.String("error", err.Error()))
			}
			// Drop any tick that fired while the cycle ran.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// cycle runs one full decision pass: fetch market data, collect votes, manage
// the open position, then consider a new entry. At most one cycle per bot
// runs at a time; a second caller skips immediately with ErrLockHeld.
func (rt *botRuntime) cycle(ctx context.Context) error {
	if !rt.inFlight.CompareAndSwap(false, true) {
		return domain.ErrLockHeld
	}
	defer rt.inFlight.Store(false)

	rt.mu.Lock()
	bot := rt.bot
	rt.mu.Unlock()

	deps := rt.o.deps

	window, err := rt.fetchWindow(ctx, bot)
	if err != nil {
		return err
	}
	price := window.Last()
	if price <= 0 {
		return fmt.Errorf("orchestrator: empty market window for %s", bot.Instrument)
	}

	volatility := window.Volatility()
	if deps.Breaker.ObserveVolatility(volatility) {
		rt.o.publishEvent(ctx, domain.Event{
			Type:   domain.EventCircuitOpen,
			BotID:  bot.ID,
			Reason: deps.Breaker.State().Reason,
		})
	}

	votes := deps.Querier.Query(ctx, window)
	decision := deps.Combiner.Combine(votes)

	// Exit management runs before any entry and is never gated by the
	// breaker or health checks; we must always be able to get out.
	rt.mu.Lock()
	pos := rt.position
	rt.mu.Unlock()
	if pos != nil {
		if reason, exit := exitReasonFor(*pos, price, decision); exit {
			return rt.closePosition(ctx, bot, *pos, reason)
		}
		return nil
	}

	if decision.Action != domain.ActionBuy {
		rt.setHaltReason("")
		return nil
	}

	if err := deps.Breaker.Allow(); err != nil {
		var coe *domain.CircuitOpenError
		if errors.As(err, &coe) {
			rt.setHaltReason(coe.Reason)
		}
		return nil
	}
	if !deps.Safety.Healthy() {
		rt.setHaltReason(deps.Safety.Status().Reason)
		return nil
	}
	if stop, reason := deps.Risk.ShouldStopTrading(); stop {
		rt.setHaltReason(reason)
		rt.o.publishEvent(ctx, domain.Event{
			Type:   domain.EventRiskAlert,
			BotID:  bot.ID,
			Reason: reason,
		})
		return nil
	}
	rt.setHaltReason("")

	return rt.openPosition(ctx, bot, window, decision, votes)
}

// fetchWindow serves the cycle from the shared cache when possible so bots on
// the same instrument share one venue fetch.
func (rt *botRuntime) fetchWindow(ctx context.Context, bot domain.Bot) (domain.MarketWindow, error) {
	deps := rt.o.deps
	if deps.Cache != nil {
		if window, err := deps.Cache.Get(ctx, bot.Instrument, bot.Timeframe); err == nil {
			return window, nil
		}
	}

	window, err := deps.Guard.FetchMarketWindow(ctx, bot.Instrument, bot.Timeframe, windowLimit)
	if err != nil {
		return domain.MarketWindow{}, err
	}
	if deps.Cache != nil {
		if err := deps.Cache.Set(ctx, window); err != nil {
			rt.logger.Debug("caching market window", slog.String("error", err.Error()))
		}
	}
	return window, nil
}

// openPosition sizes, reserves, submits and records a new long entry.
func (rt *botRuntime) openPosition(ctx context.Context, bot domain.Bot, window domain.MarketWindow, decision domain.Decision, votes []domain.Vote) error {
	deps := rt.o.deps
	price := window.Last()
	volatility := window.Volatility()
	regime := risk.ClassifyRegime(window, rt.o.cfg.RegimeConfig)

	metrics := deps.Perf.Metrics()
	kelly := deps.Risk.KellyFraction(metrics.WinRate, metrics.AvgWin, metrics.AvgLoss)
	deps.Risk.UpdateKelly(kelly)
	if kelly == 0 {
		// No usable history yet; fall back to the configured per-trade risk.
		kelly = bot.Config.RiskPerTrade
	}

	balance := deps.Risk.Balance()
	spend := deps.Risk.OptimalPositionSize(balance, kelly, volatility, decision.Confidence, 0)
	if spend <= 0 {
		return nil
	}

	amount := spend / price
	if amount > bot.Config.MaxPositionSize {
		amount = bot.Config.MaxPositionSize
		spend = amount * price
	}

	stopDist := deps.Risk.DynamicStopLoss(volatility, regime)
	tpDist := deps.Risk.TakeProfit(stopDist, regime)

	_, quote := splitInstrument(bot.Instrument)
	if err := deps.Guard.Reserve(ctx, bot.ID, quote, spend); err != nil {
		rt.logger.Warn("entry reservation refused", slog.String("error", err.Error()))
		return nil
	}
	deps.Risk.Reserve(bot.ID, spend*stopDist)

	result, err := deps.Guard.PlaceOrder(ctx, exchange.OrderRequest{
		Instrument: bot.Instrument,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeMarket,
		Amount:     amount,
	})
	if err != nil {
		deps.Guard.Release(bot.ID)
		deps.Risk.Release(bot.ID)
		return fmt.Errorf("orchestrator: entry for bot %s: %w", bot.ID, err)
	}
	deps.Guard.ConfirmFill(bot.ID)

	entryPrice := result.FilledPrice
	if entryPrice <= 0 {
		entryPrice = price
	}
	position := &domain.Position{
		BotID:      bot.ID,
		Instrument: bot.Instrument,
		Side:       domain.PositionLong,
		EntryPrice: entryPrice,
		Amount:     result.FilledSize,
		EntryFee:   result.Fee,
		StopLoss:   entryPrice * (1 - stopDist),
		TakeProfit: entryPrice * (1 + tpDist),
		EntryTime:  time.Now().UTC(),
	}

	rt.mu.Lock()
	rt.position = position
	rt.entryVotes = votes
	rt.mu.Unlock()

	// The entry fee realizes when the round trip closes; the entry row only
	// records it.
	trade := domain.Trade{
		ID:         uuid.NewString(),
		BotID:      bot.ID,
		Instrument: bot.Instrument,
		Side:       domain.OrderSideBuy,
		Amount:     result.FilledSize,
		Price:      entryPrice,
		Fee:        result.Fee,
		Timestamp:  time.Now().UTC(),
	}
	rt.recordTrade(ctx, trade)

	rt.logger.Info("position opened",
		slog.Float64("price", entryPrice),
		slog.Float64("amount", result.FilledSize),
		slog.Float64("stop_loss", position.StopLoss),
		slog.Float64("take_profit", position.TakeProfit),
		slog.String("regime", string(regime)),
		slog.Float64("confidence", decision.Confidence))
	return nil
}

// closePosition sells the open position and settles the realized PnL into
// the risk, performance and learning layers.
func (rt *botRuntime) closePosition(ctx context.Context, bot domain.Bot, pos domain.Position, reason domain.ExitReason) error {
	deps := rt.o.deps

	result, err := deps.Guard.PlaceOrder(ctx, exchange.OrderRequest{
		Instrument: pos.Instrument,
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeMarket,
		Amount:     pos.Amount,
	})
	if err != nil {
		// The position stays open; the next cycle retries the exit.
		return fmt.Errorf("orchestrator: exit for bot %s: %w", bot.ID, err)
	}

	exitPrice := result.FilledPrice
	realized := (exitPrice-pos.EntryPrice)*pos.Amount - pos.EntryFee - result.Fee

	rt.mu.Lock()
	entryVotes := rt.entryVotes
	rt.position = nil
	rt.entryVotes = nil
	rt.mu.Unlock()

	trade := domain.Trade{
		ID:          uuid.NewString(),
		BotID:       bot.ID,
		Instrument:  pos.Instrument,
		Side:        domain.OrderSideSell,
		Amount:      pos.Amount,
		Price:       exitPrice,
		Fee:         result.Fee,
		RealizedPnL: realized,
		ExitReason:  reason,
		Timestamp:   time.Now().UTC(),
	}

	state := deps.Risk.Settle(trade)
	deps.Risk.Release(bot.ID)

	if deps.Breaker.Evaluate(deps.Risk.DailyLossPct(), math.Abs(state.MaxDrawdown)) {
		rt.o.publishEvent(ctx, domain.Event{
			Type:   domain.EventCircuitOpen,
			BotID:  bot.ID,
			Reason: deps.Breaker.State().Reason,
		})
	}

	deps.Perf.Record(trade)
	rt.scoreVotes(entryVotes, realized)
	rt.recordTrade(ctx, trade)

	rt.logger.Info("position closed",
		slog.String("exit_reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", realized))
	return nil
}

// scoreVotes grades the entry votes against the realized outcome and feeds
// learning providers. Buy votes were right if the trade won, sell votes if it
// lost; hold votes are not graded.
func (rt *botRuntime) scoreVotes(votes []domain.Vote, realized float64) {
	deps := rt.o.deps
	won := realized > 0

	for _, v := range votes {
		switch v.Action {
		case domain.ActionBuy:
			deps.Tracker.Record(v.Source, won)
		case domain.ActionSell:
			deps.Tracker.Record(v.Source, !won)
		}
	}

	direction := 1.0
	if !won {
		direction = -1.0
	}
	for _, p := range deps.Registry.All() {
		if fb, ok := p.(feedbackReceiver); ok {
			fb.Feedback(direction)
		}
	}
}

// recordTrade appends to the trade ledger and publishes the execution event.
func (rt *botRuntime) recordTrade(ctx context.Context, trade domain.Trade) {
	deps := rt.o.deps
	if deps.Trades != nil {
		if err := deps.Trades.Insert(ctx, trade); err != nil {
			rt.logger.Error("persisting trade", slog.String("error", err.Error()))
		}
	}
	rt.o.publishEvent(ctx, domain.Event{
		Type:   domain.EventTradeExecuted,
		BotID:  trade.BotID,
		Payload: map[string]any{
			"trade_id":     trade.ID,
			"instrument":   trade.Instrument,
			"side":         string(trade.Side),
			"amount":       trade.Amount,
			"price":        trade.Price,
			"realized_pnl": trade.RealizedPnL,
			"exit_reason":  string(trade.ExitReason),
		},
	})
}

func (rt *botRuntime) setHaltReason(reason string) {
	rt.mu.Lock()
	rt.bot.HaltReason = reason
	rt.mu.Unlock()
}

// exitReasonFor checks the protective levels first, then the ensemble's sell
// signal.
func exitReasonFor(pos domain.Position, price float64, decision domain.Decision) (domain.ExitReason, bool) {
	switch {
	case price <= pos.StopLoss:
		return domain.ExitStopLoss, true
	case price >= pos.TakeProfit:
		return domain.ExitTakeProfit, true
	case decision.Action == domain.ActionSell:
		return domain.ExitSignal, true
	default:
		return "", false
	}
}

// splitInstrument splits "BTC/USDT" into base and quote assets.
func splitInstrument(instrument string) (base, quote string) {
	parts := strings.SplitN(instrument, "/", 2)
	if len(parts) != 2 {
		return instrument, ""
	}
	return parts[0], parts[1]
}
