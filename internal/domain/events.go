package domain

import (
	"context"
	"time"
)

// EventType names the observability events the orchestrator emits.
type EventType string

const (
	EventRiskAlert     EventType = "risk_alert"
	EventCircuitOpen   EventType = "circuit_open"
	EventCircuitClosed EventType = "circuit_closed"
	EventHealthChanged EventType = "health_changed"
	EventTradeExecuted EventType = "trade_executed"
)

// Event is one structured observability record. Payload is JSON-encoded by
// the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	BotID     string         `json:"bot_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus fans events out to observers and appends them to a durable
// stream for replay.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, types ...EventType) (<-chan Event, error)
	StreamRead(ctx context.Context, lastID string, count int) ([]StreamMessage, error)
}

// MarketCache caches recently fetched market windows with a TTL so that
// several bots on the same instrument share one venue fetch.
type MarketCache interface {
	Set(ctx context.Context, window MarketWindow) error
	Get(ctx context.Context, instrument, timeframe string) (MarketWindow, error)
}

// LockManager provides distributed locking for cross-instance coordination
// such as the daily counter rollover.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles callers per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
