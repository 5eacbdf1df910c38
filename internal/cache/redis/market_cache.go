package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// windowTTL keeps cached candle windows fresh enough for the shortest bot
// interval while letting bots on the same instrument share one venue fetch.
const windowTTL = 30 * time.Second

// MarketCache implements domain.MarketCache using JSON-serialized candle
// windows keyed by instrument and timeframe.
//
// Key schema:
//
//	window:{instrument}:{timeframe} - JSON-encoded MarketWindow
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying(), ttl: windowTTL}
}

func windowKey(instrument, timeframe string) string {
	return "window:" + instrument + ":" + timeframe
}

type cachedCandle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type cachedWindow struct {
	Instrument string         `json:"instrument"`
	Timeframe  string         `json:"timeframe"`
	Candles    []cachedCandle `json:"candles"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// Set stores a market window with the cache TTL.
func (mc *MarketCache) Set(ctx context.Context, window domain.MarketWindow) error {
	cw := cachedWindow{
		Instrument: window.Instrument,
		Timeframe:  window.Timeframe,
		Candles:    make([]cachedCandle, len(window.Candles)),
		FetchedAt:  window.FetchedAt,
	}
	for i, c := range window.Candles {
		cw.Candles[i] = cachedCandle(c)
	}

	data, err := json.Marshal(cw)
	if err != nil {
		return fmt.Errorf("redis: marshal window %s: %w", window.Instrument, err)
	}

	key := windowKey(window.Instrument, window.Timeframe)
	if err := mc.rdb.Set(ctx, key, data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set window %s: %w", window.Instrument, err)
	}
	return nil
}

// Get retrieves a cached market window. It returns domain.ErrNotFound when
// the key does not exist or has expired.
func (mc *MarketCache) Get(ctx context.Context, instrument, timeframe string) (domain.MarketWindow, error) {
	data, err := mc.rdb.Get(ctx, windowKey(instrument, timeframe)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketWindow{}, domain.ErrNotFound
		}
		return domain.MarketWindow{}, fmt.Errorf("redis: get window %s: %w", instrument, err)
	}

	var cw cachedWindow
	if err := json.Unmarshal(data, &cw); err != nil {
		return domain.MarketWindow{}, fmt.Errorf("redis: unmarshal window %s: %w", instrument, err)
	}

	window := domain.MarketWindow{
		Instrument: cw.Instrument,
		Timeframe:  cw.Timeframe,
		Candles:    make([]domain.Candle, len(cw.Candles)),
		FetchedAt:  cw.FetchedAt,
	}
	for i, c := range cw.Candles {
		window.Candles[i] = domain.Candle(c)
	}
	return window, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
