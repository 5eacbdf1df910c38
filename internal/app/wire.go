package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/Austen0305/Crypto-Orchestrator-sub000/internal/blob/s3"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/cache/redis"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/config"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/crypto"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/ensemble"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange/paper"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange/venue"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/notify"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/orchestrator"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/perf"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/risk"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/safety"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/signal"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/store/postgres"
)

// Dependencies bundles every component the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Exchange
	Gateway exchange.Gateway
	Guard   *exchange.Guard
	Stream  *venue.WSClient // live venue only, nil otherwise

	// Signals and risk
	Registry *signal.Registry
	Tracker  *signal.AccuracyTracker
	Querier  *signal.Querier
	Combiner *ensemble.Combiner
	Risk     *risk.Manager
	Breaker  *risk.Breaker
	Safety   *safety.Monitor
	Perf     *perf.Monitor

	// Stores (nil when Postgres is not wired for the mode)
	TradeStore       domain.TradeStore
	RiskCounterStore domain.RiskCounterStore
	SnapshotStore    domain.SnapshotStore

	// Redis
	EventBus    domain.EventBus
	MarketCache domain.MarketCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage (nil unless S3 is enabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
	Relay    *notify.Relay

	// Orchestrator
	Orchestrator *orchestrator.Orchestrator
}

// needsPostgres returns true for modes that require the trade ledger.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "paper", "monitor":
		return true
	default:
		return false
	}
}

// needsArchiver returns true for modes that run the retention loop. Monitor
// mode reads the ledger but never prunes it.
func needsArchiver(mode string) bool {
	switch mode {
	case "trade", "paper":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange gateway ---
	if mode == "paper" {
		deps.Gateway = paper.NewVenue(seedBalances(cfg.Bots))
	} else {
		// Unauthenticated access is enough for monitor mode; trade mode
		// validation already required credentials.
		var auth *crypto.HMACAuth
		if cfg.Venue.APIKey != "" {
			secret, err := crypto.LoadSecret(crypto.SecretConfig{
				RawSecret:           cfg.Venue.APISecret,
				EncryptedSecretPath: cfg.Venue.EncryptedSecretPath,
				Password:            cfg.Venue.SecretPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: venue secret: %w", err)
			}
			auth = &crypto.HMACAuth{Key: cfg.Venue.APIKey, Secret: secret}
		}
		client := venue.NewClient(cfg.Venue.BaseURL, auth, cfg.Venue.RequestTimeout.Duration)
		deps.Gateway = client

		if cfg.Venue.WSURL != "" {
			deps.Stream = venue.NewWSClient(cfg.Venue.WSURL, logger)
			closers = append(closers, func() { _ = deps.Stream.Close() })
		}
	}

	if err := deps.Gateway.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: connect venue: %w", err)
	}

	deps.Guard = exchange.NewGuard(deps.Gateway, exchange.GuardConfig{
		MaxRetries:     cfg.Venue.MaxRetries,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}, logger)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.EventBus = redis.NewEventBus(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- PostgreSQL ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.RiskCounterStore = postgres.NewRiskCounterStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		if needsArchiver(mode) && deps.TradeStore != nil {
			deps.Archiver = s3blob.NewTradeArchiver(deps.BlobWriter, deps.TradeStore, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	events := make([]domain.EventType, 0, len(cfg.Notify.Events))
	for _, e := range cfg.Notify.Events {
		events = append(events, domain.EventType(strings.TrimSpace(e)))
	}
	deps.Notifier = notify.NewNotifier(senders, events, logger)
	if len(senders) > 0 {
		deps.Relay = notify.NewRelay(deps.EventBus, deps.Notifier, logger)
	}

	// --- Signal providers ---
	deps.Registry = signal.NewRegistry()
	for _, name := range cfg.Signal.Providers {
		switch strings.ToLower(name) {
		case "momentum":
			deps.Registry.Register(signal.NewMomentumProvider(10, 30))
		case "meanreversion":
			deps.Registry.Register(signal.NewMeanReversionProvider(20))
		case "adaptive":
			deps.Registry.Register(signal.NewAdaptiveProvider())
		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unknown signal provider %q", name)
		}
	}
	deps.Tracker = signal.NewAccuracyTracker(cfg.Signal.AccuracyWindow)
	deps.Querier = signal.NewQuerier(deps.Registry, deps.Tracker, cfg.Signal.ProviderTimeout.Duration, logger)
	deps.Combiner = ensemble.New()

	// --- Risk, safety, performance ---
	balance, err := startingBalance(ctx, deps.Guard, cfg.Bots)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: fetch starting balance: %w", err)
	}

	deps.Risk = risk.NewManager(risk.Limits{
		MaxDrawdownPct:       cfg.Risk.MaxDrawdownPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		MaxPortfolioHeatPct:  cfg.Risk.MaxPortfolioHeatPct,
		MaxVaRPct:            cfg.Risk.MaxVaRPct,
		MaxPositionSizePct:   cfg.Risk.MaxPositionSizePct,
		MinStopPct:           cfg.Risk.MinStopPct,
	}, balance, logger)

	deps.Breaker = risk.NewBreaker(risk.BreakerConfig{
		MaxDailyLossPct: cfg.Risk.MaxDailyLossPct,
		MaxDrawdownPct:  cfg.Risk.MaxDrawdownPct,
		VolatilitySpike: cfg.Risk.VolatilitySpike,
		CooldownPeriod:  cfg.Risk.CooldownPeriod.Duration,
	}, logger)

	deps.Safety = safety.NewMonitor(safety.Config{
		CheckInterval: cfg.Safety.CheckInterval.Duration,
		MaxLatencyMs:  cfg.Safety.MaxLatencyMs,
		MinQuota:      cfg.Safety.MinQuota,
	}, deps.Gateway, logger)

	deps.Perf = perf.NewMonitor(perf.Config{
		WindowSize:      cfg.Perf.WindowSize,
		RiskFreeRate:    cfg.Perf.RiskFreeRate,
		MinWinRate:      cfg.Perf.MinWinRate,
		MinProfitFactor: cfg.Perf.MinProfitFactor,
		MaxDrawdownPct:  cfg.Perf.MaxDrawdownPct,
		InitialEquity:   balance,
	}, logger)

	// Sustained poor performance trips the breaker like any risk limit.
	deps.Perf.OnPoorPerformance(func(reason string) {
		deps.Breaker.Trip(reason)
	})

	// --- Orchestrator ---
	deps.Orchestrator = orchestrator.New(orchestrator.Deps{
		Guard:     deps.Guard,
		Querier:   deps.Querier,
		Combiner:  deps.Combiner,
		Risk:      deps.Risk,
		Breaker:   deps.Breaker,
		Safety:    deps.Safety,
		Perf:      deps.Perf,
		Tracker:   deps.Tracker,
		Registry:  deps.Registry,
		Trades:    deps.TradeStore,
		Counters:  deps.RiskCounterStore,
		Snapshots: deps.SnapshotStore,
		Events:    deps.EventBus,
		Cache:     deps.MarketCache,
		Locks:     deps.LockManager,
	}, orchestrator.Config{
		SnapshotInterval: cfg.Signal.SnapshotInterval.Duration,
	}, logger)

	for _, b := range cfg.Bots {
		bot := domain.Bot{
			ID:         b.ID,
			Instrument: b.Instrument,
			Timeframe:  b.Timeframe,
			Mode:       domain.BotMode(b.Mode),
			Config: domain.BotConfig{
				MaxPositionSize: b.MaxPositionSize,
				StopLossPct:     b.StopLossPct,
				TakeProfitPct:   b.TakeProfitPct,
				RiskPerTrade:    b.RiskPerTrade,
			},
		}
		if err := deps.Orchestrator.AddBot(bot, b.Interval.Duration); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: add bot %s: %w", b.ID, err)
		}
		deps.Orchestrator.RestoreSnapshots(ctx, b.ID)
	}

	return deps, cleanup, nil
}

// seedBalances funds the paper venue with a fixed quote balance per quote
// currency appearing in the configured bots.
func seedBalances(bots []config.BotConfig) map[string]float64 {
	const seed = 10_000.0

	balances := make(map[string]float64)
	for _, b := range bots {
		if _, quote, ok := strings.Cut(b.Instrument, "/"); ok && quote != "" {
			balances[quote] = seed
		}
	}
	if len(balances) == 0 {
		balances["USDT"] = seed
	}
	return balances
}

// startingBalance sums the venue balances of every quote currency the
// configured bots trade in.
func startingBalance(ctx context.Context, guard *exchange.Guard, bots []config.BotConfig) (float64, error) {
	balances, err := guard.FetchBalance(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	var total float64
	for _, b := range bots {
		_, quote, ok := strings.Cut(b.Instrument, "/")
		if !ok || seen[quote] {
			continue
		}
		seen[quote] = true
		total += balances[quote]
	}
	return total, nil
}
