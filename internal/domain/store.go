package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists the append-only trade ledger.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByBot(ctx context.Context, botID string, opts ListOpts) ([]Trade, error)
	ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// RiskCounterStore persists daily risk counters keyed by UTC date.
type RiskCounterStore interface {
	Get(ctx context.Context, day time.Time) (RiskCounter, error)
	AddLoss(ctx context.Context, day time.Time, loss float64) (RiskCounter, error)
	Reset(ctx context.Context, day time.Time) error
}

// SnapshotStore persists versioned opaque model snapshots per bot and
// provider. Save assigns the next version; Latest returns the highest.
type SnapshotStore interface {
	Save(ctx context.Context, snap ModelSnapshot) (int, error)
	Latest(ctx context.Context, botID, provider string) (ModelSnapshot, error)
	List(ctx context.Context, botID string, opts ListOpts) ([]ModelSnapshot, error)
}
