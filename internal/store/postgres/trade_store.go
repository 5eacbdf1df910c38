package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, bot_id, instrument, side, amount, price, fee,
	realized_pnl, exit_reason, executed_at`

const tradeInsertQuery = `
	INSERT INTO trades (
		id, bot_id, instrument, side, amount, price, fee,
		realized_pnl, exit_reason, executed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	) ON CONFLICT (id) DO NOTHING`

func tradeArgs(t domain.Trade) []any {
	var exitReason *string
	if t.ExitReason != "" {
		s := string(t.ExitReason)
		exitReason = &s
	}
	return []any{
		t.ID, t.BotID, t.Instrument, string(t.Side),
		t.Amount, t.Price, t.Fee, t.RealizedPnL,
		exitReason, t.Timestamp,
	}
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		var exitReason *string
		if err := rows.Scan(
			&t.ID, &t.BotID, &t.Instrument, &side,
			&t.Amount, &t.Price, &t.Fee, &t.RealizedPnL,
			&exitReason, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		if exitReason != nil {
			t.ExitReason = domain.ExitReason(*exitReason)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends one trade to the ledger. A replayed trade ID is silently
// skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) Insert(ctx context.Context, trade domain.Trade) error {
	if _, err := s.pool.Exec(ctx, tradeInsertQuery, tradeArgs(trade)...); err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple trades efficiently using pgx Batch.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(tradeInsertQuery, tradeArgs(t)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByBot returns a bot's trades with pagination and optional time
// filtering, newest first.
func (s *TradeStore) ListByBot(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE bot_id = $1`
	args := []any{botID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by bot: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by bot: %w", err)
	}
	return trades, nil
}

// ListSettledBefore returns settled trades older than the cutoff, oldest
// first, used by the archiver. Entries without an exit reason are part of the
// ledger too and are included.
func (s *TradeStore) ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes all trades older than the cutoff. Returns the number
// deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of trades in the ledger.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}
