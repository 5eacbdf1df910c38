package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// RiskCounterStore implements domain.RiskCounterStore using PostgreSQL. One
// row per UTC day keeps the daily loss accumulator durable across restarts.
type RiskCounterStore struct {
	pool *pgxpool.Pool
}

// NewRiskCounterStore creates a store backed by the given connection pool.
func NewRiskCounterStore(pool *pgxpool.Pool) *RiskCounterStore {
	return &RiskCounterStore{pool: pool}
}

// Get returns the counter for a day. A missing day yields a zero counter for
// that day, not an error.
func (s *RiskCounterStore) Get(ctx context.Context, day time.Time) (domain.RiskCounter, error) {
	day = day.UTC().Truncate(24 * time.Hour)

	var c domain.RiskCounter
	err := s.pool.QueryRow(ctx,
		`SELECT day, daily_loss, trade_count, updated_at FROM risk_counters WHERE day = $1`,
		day,
	).Scan(&c.Day, &c.DailyLoss, &c.TradeCount, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RiskCounter{Day: day}, nil
	}
	if err != nil {
		return domain.RiskCounter{}, fmt.Errorf("postgres: get risk counter: %w", err)
	}
	return c, nil
}

// AddLoss atomically accumulates a loss into the day's counter and returns
// the updated row. Concurrent settlements across instances serialize on the
// upsert.
func (s *RiskCounterStore) AddLoss(ctx context.Context, day time.Time, loss float64) (domain.RiskCounter, error) {
	day = day.UTC().Truncate(24 * time.Hour)

	var c domain.RiskCounter
	err := s.pool.QueryRow(ctx, `
		INSERT INTO risk_counters (day, daily_loss, trade_count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (day) DO UPDATE SET
			daily_loss = risk_counters.daily_loss + EXCLUDED.daily_loss,
			trade_count = risk_counters.trade_count + 1,
			updated_at = NOW()
		RETURNING day, daily_loss, trade_count, updated_at`,
		day, loss,
	).Scan(&c.Day, &c.DailyLoss, &c.TradeCount, &c.UpdatedAt)
	if err != nil {
		return domain.RiskCounter{}, fmt.Errorf("postgres: add daily loss: %w", err)
	}
	return c, nil
}

// Reset zeroes the counter for a day at the daily rollover.
func (s *RiskCounterStore) Reset(ctx context.Context, day time.Time) error {
	day = day.UTC().Truncate(24 * time.Hour)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_counters (day, daily_loss, trade_count, updated_at)
		VALUES ($1, 0, 0, NOW())
		ON CONFLICT (day) DO UPDATE SET
			daily_loss = 0,
			trade_count = 0,
			updated_at = NOW()`,
		day,
	)
	if err != nil {
		return fmt.Errorf("postgres: reset risk counter: %w", err)
	}
	return nil
}
