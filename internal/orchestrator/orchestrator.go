// Package orchestrator schedules the per-bot execution loops and exposes the
// control surface for starting, stopping and inspecting bots.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/ensemble"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/perf"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/risk"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/safety"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/signal"
)

// Deps bundles the shared collaborators every bot cycle reads. The risk
// manager, breaker, safety and performance monitors are process-wide
// singletons injected here rather than globals.
type Deps struct {
	Guard    *exchange.Guard
	Querier  *signal.Querier
	Combiner *ensemble.Combiner
	Risk     *risk.Manager
	Breaker  *risk.Breaker
	Safety   *safety.Monitor
	Perf     *perf.Monitor
	Tracker  *signal.AccuracyTracker
	Registry *signal.Registry

	// Optional collaborators; nil disables the concern.
	Trades    domain.TradeStore
	Counters  domain.RiskCounterStore
	Snapshots domain.SnapshotStore
	Events    domain.EventBus
	Cache     domain.MarketCache
	Locks     domain.LockManager
}

// Config holds orchestrator-level tunables.
type Config struct {
	RegimeConfig     risk.RegimeConfig
	SnapshotInterval time.Duration
}

// SystemStatus is the full status snapshot returned to control callers.
type SystemStatus struct {
	Bots        []BotView                 `json:"bots"`
	Health      domain.HealthStatus       `json:"health"`
	Circuit     domain.CircuitState       `json:"circuit"`
	Performance domain.PerformanceMetrics `json:"performance"`
	Risk        domain.RiskState          `json:"risk"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// BotView is one bot's slice of the system status.
type BotView struct {
	Bot      domain.Bot       `json:"bot"`
	Position *domain.Position `json:"position,omitempty"`
}

// Orchestrator owns the bot registry. Every registered bot gets its own
// runtime with an independent timer; shared state flows through Deps.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	bots    map[string]*botRuntime
	baseCtx context.Context
}

// New returns an orchestrator with an empty registry.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.RegimeConfig.TrendPeriod == 0 {
		cfg.RegimeConfig = risk.DefaultRegimeConfig()
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 15 * time.Minute
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "orchestrator")),
		bots:   make(map[string]*botRuntime),
	}
}

// AddBot admits a bot to the registry in the stopped state.
func (o *Orchestrator) AddBot(bot domain.Bot, interval time.Duration) error {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	if err := bot.Config.Validate(); err != nil {
		return err
	}
	if interval <= 0 {
		return &domain.ValidationError{Field: "interval", Reason: "must be positive"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.bots[bot.ID]; exists {
		return fmt.Errorf("orchestrator: bot %s: %w", bot.ID, domain.ErrAlreadyExists)
	}

	bot.Status = domain.BotStatusStopped
	bot.CreatedAt = time.Now().UTC()
	o.bots[bot.ID] = newBotRuntime(bot, interval, o)
	o.logger.Info("bot registered",
		slog.String("bot_id", bot.ID),
		slog.String("instrument", bot.Instrument),
		slog.String("mode", string(bot.Mode)))
	return nil
}

// BindContext sets the application context every subsequently started run
// loop is parented on. Control calls arrive on request-scoped contexts that
// end with the request; a loop parented there would die before its first
// tick. Called once when the application mode starts.
func (o *Orchestrator) BindContext(ctx context.Context) {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()
}

// lifetime returns the context run loops are parented on.
func (o *Orchestrator) lifetime() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.baseCtx != nil {
		return o.baseCtx
	}
	return context.Background()
}

// StartBot launches the bot's periodic loop. The loop outlives the caller's
// context; it runs until StopBot or application shutdown. Starting a running
// bot is an error.
func (o *Orchestrator) StartBot(ctx context.Context, botID string) error {
	o.mu.Lock()
	rt, ok := o.bots[botID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: bot %s: %w", botID, domain.ErrNotFound)
	}
	return rt.start(o.lifetime())
}

// StopBot cancels the bot's timer and waits for any in-flight cycle to
// finish, so a half-submitted order is never abandoned.
func (o *Orchestrator) StopBot(botID string) error {
	o.mu.Lock()
	rt, ok := o.bots[botID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: bot %s: %w", botID, domain.ErrNotFound)
	}
	return rt.stop()
}

// StopAll stops every running bot, used at shutdown.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	rts := make([]*botRuntime, 0, len(o.bots))
	for _, rt := range o.bots {
		rts = append(rts, rt)
	}
	o.mu.Unlock()

	for _, rt := range rts {
		_ = rt.stop()
	}
}

// ResetCircuitBreaker forwards the explicit reset call. It reports whether
// the breaker actually closed; a reset during cooldown returns false.
func (o *Orchestrator) ResetCircuitBreaker() bool {
	ok := o.deps.Breaker.Reset()
	if ok {
		o.publishEvent(context.Background(), domain.Event{
			Type:   domain.EventCircuitClosed,
			Reason: "manual reset",
		})
	}
	return ok
}

// SystemStatus reports every bot, the health and circuit gates, and the
// rolling performance and risk snapshots. Halted bots carry their specific
// reason string.
func (o *Orchestrator) SystemStatus() SystemStatus {
	o.mu.Lock()
	ids := make([]string, 0, len(o.bots))
	for id := range o.bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	views := make([]BotView, 0, len(ids))
	for _, id := range ids {
		views = append(views, o.bots[id].view())
	}
	o.mu.Unlock()

	return SystemStatus{
		Bots:        views,
		Health:      o.deps.Safety.Status(),
		Circuit:     o.deps.Breaker.State(),
		Performance: o.deps.Perf.Metrics(),
		Risk:        o.deps.Risk.State(),
		GeneratedAt: time.Now().UTC(),
	}
}

// Bot returns one bot's view.
func (o *Orchestrator) Bot(botID string) (BotView, error) {
	o.mu.Lock()
	rt, ok := o.bots[botID]
	o.mu.Unlock()
	if !ok {
		return BotView{}, fmt.Errorf("orchestrator: bot %s: %w", botID, domain.ErrNotFound)
	}
	return rt.view(), nil
}

// RunMaintenance drives the daily risk-counter rollover and periodic model
// snapshot persistence until ctx is cancelled.
func (o *Orchestrator) RunMaintenance(ctx context.Context) error {
	snapTicker := time.NewTicker(o.cfg.SnapshotInterval)
	defer snapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(untilNextMidnightUTC(time.Now().UTC())):
			o.rolloverDaily(ctx)
		case <-snapTicker.C:
			o.persistSnapshots(ctx)
		}
	}
}

// rolloverDaily resets the daily loss accumulator. When several orchestrator
// instances share one database the distributed lock elects a single worker.
func (o *Orchestrator) rolloverDaily(ctx context.Context) {
	if o.deps.Locks != nil {
		unlock, err := o.deps.Locks.Acquire(ctx, "risk:daily_rollover", time.Minute)
		if err != nil {
			o.logger.Debug("daily rollover skipped, another instance holds the lock")
			return
		}
		defer unlock()
	}

	o.deps.Risk.RolloverDaily()
	if o.deps.Counters != nil {
		day := time.Now().UTC().Truncate(24 * time.Hour)
		if err := o.deps.Counters.Reset(ctx, day); err != nil {
			o.logger.Error("resetting daily risk counter", slog.String("error", err.Error()))
		}
	}
}

// persistSnapshots saves learned provider state for every running bot.
func (o *Orchestrator) persistSnapshots(ctx context.Context) {
	if o.deps.Snapshots == nil {
		return
	}

	o.mu.Lock()
	ids := make([]string, 0, len(o.bots))
	for id := range o.bots {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, p := range o.deps.Registry.All() {
		snapper, ok := p.(signal.Snapshotter)
		if !ok {
			continue
		}
		payload, err := snapper.Snapshot()
		if err != nil {
			o.logger.Error("snapshotting provider state",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()))
			continue
		}
		for _, botID := range ids {
			snap := domain.ModelSnapshot{
				BotID:     botID,
				Provider:  p.Name(),
				Payload:   payload,
				CreatedAt: time.Now().UTC(),
			}
			if _, err := o.deps.Snapshots.Save(ctx, snap); err != nil {
				o.logger.Error("persisting model snapshot",
					slog.String("bot_id", botID),
					slog.String("provider", p.Name()),
					slog.String("error", err.Error()))
			}
		}
	}
}

// RestoreSnapshots loads the latest persisted state into snapshot-capable
// providers at startup. Missing snapshots are not an error.
func (o *Orchestrator) RestoreSnapshots(ctx context.Context, botID string) {
	if o.deps.Snapshots == nil {
		return
	}
	for _, p := range o.deps.Registry.All() {
		snapper, ok := p.(signal.Snapshotter)
		if !ok {
			continue
		}
		snap, err := o.deps.Snapshots.Latest(ctx, botID, p.Name())
		if err != nil {
			continue
		}
		if err := snapper.Restore(snap.Payload); err != nil {
			o.logger.Warn("restoring model snapshot",
				slog.String("provider", p.Name()),
				slog.Int("version", snap.Version),
				slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, event domain.Event) {
	if o.deps.Events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := o.deps.Events.Publish(ctx, event); err != nil {
		o.logger.Error("publishing event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}

// untilNextMidnightUTC returns the wait to the next daily boundary.
func untilNextMidnightUTC(now time.Time) time.Duration {
	next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}
