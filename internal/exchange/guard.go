package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// GuardConfig tunes the retry and backoff behavior of the safety wrapper.
type GuardConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultGuardConfig returns the standard bounded-backoff settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Guard wraps a Gateway with bounded-backoff retries for transient failures
// and the balance reservation ledger that keeps concurrent bots from
// overspending a shared account. Order submission itself is never retried;
// a timed-out submission could have filled, and a duplicate order is worse
// than a missed one.
type Guard struct {
	gw     Gateway
	cfg    GuardConfig
	logger *slog.Logger

	mu           sync.Mutex
	reservations map[string]float64 // botID -> reserved quote amount
}

// NewGuard wraps gw.
func NewGuard(gw Gateway, cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Guard{
		gw:           gw,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "exchange_guard")),
		reservations: make(map[string]float64),
	}
}

// Gateway exposes the wrapped venue for health probing.
func (g *Guard) Gateway() Gateway { return g.gw }

// FetchMarketWindow retries transient failures with bounded backoff.
func (g *Guard) FetchMarketWindow(ctx context.Context, instrument, timeframe string, limit int) (domain.MarketWindow, error) {
	var window domain.MarketWindow
	err := g.withRetry(ctx, "fetch market window", func() error {
		var err error
		window, err = g.gw.FetchMarketWindow(ctx, instrument, timeframe, limit)
		return err
	})
	return window, err
}

// FetchBalance retries transient failures with bounded backoff.
func (g *Guard) FetchBalance(ctx context.Context) (map[string]float64, error) {
	var balances map[string]float64
	err := g.withRetry(ctx, "fetch balance", func() error {
		var err error
		balances, err = g.gw.FetchBalance(ctx)
		return err
	})
	return balances, err
}

// FetchOrderStatus retries transient failures with bounded backoff.
func (g *Guard) FetchOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	var result domain.OrderResult
	err := g.withRetry(ctx, "fetch order status", func() error {
		var err error
		result, err = g.gw.FetchOrderStatus(ctx, orderID)
		return err
	})
	return result, err
}

// Reserve earmarks quote currency for a bot's pending entry. The
// reservation is checked against the venue balance net of all other bots'
// reservations, so two bots racing for the same pool cannot both win the
// same funds. The caller must Release or ConfirmFill exactly once.
func (g *Guard) Reserve(ctx context.Context, botID, quoteAsset string, spend float64) error {
	if spend <= 0 {
		return &domain.ValidationError{Field: "spend", Reason: "must be positive"}
	}

	balances, err := g.FetchBalance(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.reservations[botID]; exists {
		return fmt.Errorf("exchange: bot %s already holds a reservation", botID)
	}

	var reserved float64
	for _, r := range g.reservations {
		reserved += r
	}
	available := balances[quoteAsset] - reserved
	if spend > available {
		return fmt.Errorf("exchange: reserve %.2f %s with %.2f available: %w",
			spend, quoteAsset, available, domain.ErrInsufficientBalance)
	}

	g.reservations[botID] = spend
	return nil
}

// Release drops a bot's reservation after a failed or abandoned entry.
func (g *Guard) Release(botID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reservations, botID)
}

// ConfirmFill reconciles a reservation against the actual fill. The venue
// balance now reflects the spend, so the reservation simply ends.
func (g *Guard) ConfirmFill(botID string) {
	g.Release(botID)
}

// Reserved returns the total quote currency currently reserved.
func (g *Guard) Reserved() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total float64
	for _, r := range g.reservations {
		total += r
	}
	return total
}

// PlaceOrder validates and submits an order. A reservation must be held for
// entries; the caller reconciles it from the result. No retries: see the
// type comment.
func (g *Guard) PlaceOrder(ctx context.Context, req OrderRequest) (domain.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return domain.OrderResult{}, err
	}

	result, err := g.gw.PlaceOrder(ctx, req)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return result, nil
}

// withRetry runs fn, retrying transient failures with exponential backoff up
// to the configured attempt cap. Validation and risk errors pass through on
// the first failure.
func (g *Guard) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := g.cfg.InitialBackoff

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) || attempt >= g.cfg.MaxRetries {
			return err
		}

		g.logger.Debug("retrying venue call",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > g.cfg.MaxBackoff {
			backoff = g.cfg.MaxBackoff
		}
	}
}
