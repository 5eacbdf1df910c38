package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange/venue"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/server"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/server/handler"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/server/ws"
)

// TradeMode runs the live trading loop: bot execution, safety polling,
// maintenance, archival and the control API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runTrading(ctx, deps)
}

// PaperMode is trade mode against the in-process simulated venue. The wiring
// already swapped the gateway, so the runtime is identical.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runTrading(ctx, deps)
}

// MonitorMode runs read-only observation: safety polling, the control API and
// notifications. No bot loops are started and no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	deps.Orchestrator.BindContext(ctx)

	a.publishHealthChanges(ctx, deps)
	g.Go(func() error {
		return deps.Safety.Run(ctx)
	})

	if deps.Relay != nil {
		g.Go(func() error {
			return deps.Relay.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// runTrading starts every long-running worker for the trading modes and
// blocks until the context is cancelled.
func (a *App) runTrading(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	// Bot loops started over the control API must outlive the request that
	// started them, so they parent on the mode's context instead.
	deps.Orchestrator.BindContext(ctx)

	a.publishHealthChanges(ctx, deps)
	g.Go(func() error {
		return deps.Safety.Run(ctx)
	})

	g.Go(func() error {
		return deps.Orchestrator.RunMaintenance(ctx)
	})

	if deps.Relay != nil {
		g.Go(func() error {
			return deps.Relay.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps.Archiver)
		})
	}

	if deps.Stream != nil {
		a.startTickerStream(ctx, g, deps)
	}

	// Auto-start the configured bots, then stop everything on shutdown so
	// no in-flight cycle is abandoned.
	for _, b := range a.cfg.Bots {
		if !b.AutoStart {
			continue
		}
		if err := deps.Orchestrator.StartBot(ctx, b.ID); err != nil {
			return fmt.Errorf("start bot %s: %w", b.ID, err)
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		deps.Orchestrator.StopAll()
		return ctx.Err()
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// publishHealthChanges forwards safety monitor flips to the event bus so
// dashboards and notifiers see them.
func (a *App) publishHealthChanges(ctx context.Context, deps *Dependencies) {
	deps.Safety.OnChange(func(status domain.HealthStatus) {
		event := domain.Event{
			Type:   domain.EventHealthChanged,
			Reason: status.Reason,
			Payload: map[string]any{
				"healthy":    status.IsHealthy,
				"latency_ms": status.LatencyMs,
			},
		}
		if err := deps.EventBus.Publish(ctx, event); err != nil {
			a.logger.WarnContext(ctx, "publishing health change",
				slog.String("error", err.Error()),
			)
		}
	})
}

// runArchiveLoop moves settled ledger rows past the retention window to
// object storage once a day.
func (a *App) runArchiveLoop(ctx context.Context, archiver domain.Archiver) error {
	retention := time.Duration(a.cfg.S3.ArchiveRetentionDays) * 24 * time.Hour

	runOnce := func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := archiver.ArchiveTrades(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "trade archival failed",
				slog.String("error", err.Error()),
			)
			return
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archived settled trades",
				slog.Int64("trades", n),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	runOnce()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce()
		}
	}
}

// startTickerStream subscribes the live price stream to every configured
// instrument. Ticks are logged at debug level; the execution loop itself
// works from candle windows, not the stream.
func (a *App) startTickerStream(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	seen := make(map[string]bool)
	var instruments []string
	for _, b := range a.cfg.Bots {
		if !seen[b.Instrument] {
			seen[b.Instrument] = true
			instruments = append(instruments, b.Instrument)
		}
	}
	if len(instruments) == 0 {
		return
	}

	deps.Stream.OnTicker(func(t venue.Ticker) {
		a.logger.Debug("ticker",
			slog.String("instrument", t.Instrument),
			slog.Float64("price", t.Price),
		)
	})

	g.Go(func() error {
		if err := deps.Stream.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "ticker stream unavailable",
				slog.String("error", err.Error()),
			)
			return nil
		}
		if err := deps.Stream.Subscribe(instruments); err != nil {
			a.logger.WarnContext(ctx, "ticker stream subscribe failed",
				slog.String("error", err.Error()),
			)
			return nil
		}
		<-ctx.Done()
		return deps.Stream.Close()
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// errgroup. The server shuts down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Safety, a.logger),
		Status:      handler.NewStatusHandler(deps.Orchestrator, a.cfg.Mode, a.logger),
		Bots:        handler.NewBotHandler(deps.Orchestrator, deps.TradeStore, a.logger),
		Performance: handler.NewPerformanceHandler(deps.Perf, deps.Tracker, deps.Registry, a.logger),
		Events:      handler.NewEventsHandler(deps.EventBus, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
