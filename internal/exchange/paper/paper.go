// Package paper implements an in-process exchange gateway with deterministic
// synthetic market data and instant fills, used for paper mode and tests.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/exchange"
)

const feeRate = 0.001 // 10 bps taker fee on every fill

// Venue is a deterministic paper exchange. Prices follow a seeded random
// walk per instrument, balances update on fills, and every order fills
// immediately at the current synthetic price.
type Venue struct {
	mu        sync.Mutex
	connected bool
	balances  map[string]float64
	orders    map[string]domain.OrderResult
	walks     map[string]*priceWalk
	latency   time.Duration
}

type priceWalk struct {
	rng   *rand.Rand
	price float64
}

// NewVenue returns a paper venue holding the given starting balances.
func NewVenue(balances map[string]float64) *Venue {
	b := make(map[string]float64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Venue{
		balances: b,
		orders:   make(map[string]domain.OrderResult),
		walks:    make(map[string]*priceWalk),
		latency:  5 * time.Millisecond,
	}
}

// SetLatency overrides the synthetic round-trip latency reported by Ping.
func (v *Venue) SetLatency(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.latency = d
}

func (v *Venue) Connect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = true
	return nil
}

func (v *Venue) IsConnected(ctx context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *Venue) Ping(ctx context.Context) (time.Duration, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return 0, &domain.ConnectivityError{Op: "ping", Err: domain.ErrWSDisconnect}
	}
	return v.latency, nil
}

// FetchMarketWindow returns limit candles from the instrument's random walk,
// advancing it one step per call so repeated fetches see fresh prices.
func (v *Venue) FetchMarketWindow(ctx context.Context, instrument, timeframe string, limit int) (domain.MarketWindow, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return domain.MarketWindow{}, &domain.ConnectivityError{Op: "fetch market window", Err: domain.ErrWSDisconnect}
	}
	if limit <= 0 {
		limit = 100
	}

	walk := v.walkFor(instrument)
	step, err := timeframeStep(timeframe)
	if err != nil {
		return domain.MarketWindow{}, err
	}

	now := time.Now().UTC().Truncate(step)
	candles := make([]domain.Candle, limit)
	price := walk.price
	// Walk backwards from the live price for history, then advance the live
	// price one step.
	for i := limit - 1; i >= 0; i-- {
		candles[i] = syntheticCandle(walk.rng, price, now.Add(-time.Duration(limit-1-i)*step))
		price *= 1 - walk.rng.Float64()*0.004 + 0.002
	}
	walk.price *= 1 + (walk.rng.Float64()-0.5)*0.004

	return domain.MarketWindow{
		Instrument: instrument,
		Timeframe:  timeframe,
		Candles:    candles,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (v *Venue) FetchBalance(ctx context.Context) (map[string]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return nil, &domain.ConnectivityError{Op: "fetch balance", Err: domain.ErrWSDisconnect}
	}
	out := make(map[string]float64, len(v.balances))
	for k, bal := range v.balances {
		out[k] = bal
	}
	return out, nil
}

// PlaceOrder fills immediately at the current walk price and settles the
// base and quote balances.
func (v *Venue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return domain.OrderResult{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return domain.OrderResult{}, &domain.ConnectivityError{Op: "place order", Err: domain.ErrWSDisconnect}
	}

	base, quote, err := splitInstrument(req.Instrument)
	if err != nil {
		return domain.OrderResult{}, err
	}

	price := v.walkFor(req.Instrument).price
	if req.Type == domain.OrderTypeLimit {
		price = req.Price
	}
	notional := price * req.Amount
	fee := notional * feeRate

	switch req.Side {
	case domain.OrderSideBuy:
		if v.balances[quote] < notional+fee {
			return domain.OrderResult{}, fmt.Errorf("paper: buy %s: %w", req.Instrument, domain.ErrInsufficientBalance)
		}
		v.balances[quote] -= notional + fee
		v.balances[base] += req.Amount
	case domain.OrderSideSell:
		if v.balances[base] < req.Amount {
			return domain.OrderResult{}, fmt.Errorf("paper: sell %s: %w", req.Instrument, domain.ErrInsufficientBalance)
		}
		v.balances[base] -= req.Amount
		v.balances[quote] += notional - fee
	}

	result := domain.OrderResult{
		OrderID:     uuid.NewString(),
		Status:      domain.OrderStatusFilled,
		FilledPrice: price,
		FilledSize:  req.Amount,
		Fee:         fee,
		PlacedAt:    time.Now().UTC(),
	}
	v.orders[result.OrderID] = result
	return result, nil
}

func (v *Venue) FetchOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	result, ok := v.orders[orderID]
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	return result, nil
}

func (v *Venue) Quota(ctx context.Context) (int, time.Time, error) {
	return 100000, time.Now().UTC().Add(time.Minute), nil
}

// walkFor lazily creates the instrument's seeded walk. Caller holds the lock.
func (v *Venue) walkFor(instrument string) *priceWalk {
	walk, ok := v.walks[instrument]
	if !ok {
		h := fnv.New64a()
		h.Write([]byte(instrument))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))
		walk = &priceWalk{
			rng:   rng,
			price: 100 + rng.Float64()*900,
		}
		v.walks[instrument] = walk
	}
	return walk
}

func syntheticCandle(rng *rand.Rand, px float64, ts time.Time) domain.Candle {
	spread := px * 0.002
	open := px * (1 + (rng.Float64()-0.5)*0.002)
	return domain.Candle{
		Timestamp: ts,
		Open:      open,
		High:      math.Max(open, px) + spread*rng.Float64(),
		Low:       math.Min(open, px) - spread*rng.Float64(),
		Close:     px,
		Volume:    10 + rng.Float64()*90,
	}
}

func splitInstrument(instrument string) (base, quote string, err error) {
	parts := strings.SplitN(instrument, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &domain.ValidationError{Field: "instrument", Reason: "want BASE/QUOTE form"}
	}
	return parts[0], parts[1], nil
}

func timeframeStep(timeframe string) (time.Duration, error) {
	switch timeframe {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, &domain.ValidationError{Field: "timeframe", Reason: "unsupported timeframe " + timeframe}
	}
}
