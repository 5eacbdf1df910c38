package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Payloads
// are opaque to the store; versioning is per bot and provider.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a store backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save persists a snapshot under the next version for its bot and provider
// and returns the assigned version.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.ModelSnapshot) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO model_snapshots (bot_id, provider, version, payload, created_at)
		VALUES (
			$1, $2,
			COALESCE((SELECT MAX(version) FROM model_snapshots WHERE bot_id = $1 AND provider = $2), 0) + 1,
			$3, NOW()
		)
		RETURNING version`,
		snap.BotID, snap.Provider, snap.Payload,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("postgres: save model snapshot: %w", err)
	}
	return version, nil
}

// Latest returns the highest-versioned snapshot for a bot and provider.
func (s *SnapshotStore) Latest(ctx context.Context, botID, provider string) (domain.ModelSnapshot, error) {
	var snap domain.ModelSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT bot_id, provider, version, payload, created_at
		FROM model_snapshots
		WHERE bot_id = $1 AND provider = $2
		ORDER BY version DESC
		LIMIT 1`,
		botID, provider,
	).Scan(&snap.BotID, &snap.Provider, &snap.Version, &snap.Payload, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ModelSnapshot{}, fmt.Errorf("postgres: snapshot %s/%s: %w", botID, provider, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ModelSnapshot{}, fmt.Errorf("postgres: latest model snapshot: %w", err)
	}
	return snap, nil
}

// List returns a bot's snapshots across providers, newest first.
func (s *SnapshotStore) List(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.ModelSnapshot, error) {
	query := `
		SELECT bot_id, provider, version, payload, created_at
		FROM model_snapshots
		WHERE bot_id = $1
		ORDER BY created_at DESC`
	args := []any{botID}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list model snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.ModelSnapshot
	for rows.Next() {
		var snap domain.ModelSnapshot
		if err := rows.Scan(&snap.BotID, &snap.Provider, &snap.Version, &snap.Payload, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan model snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list model snapshots: %w", err)
	}
	return snaps, nil
}
