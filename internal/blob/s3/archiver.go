package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// archiveBatchSize bounds how many trades one archive pass pulls from the
// database.
const archiveBatchSize = 10000

// TradeArchiver implements domain.Archiver by querying the trade ledger for
// rows older than the retention cutoff, serializing them to JSONL, uploading
// the file to object storage and only then pruning the database. A failed
// upload leaves the rows in place for the next pass.
type TradeArchiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver.
func NewTradeArchiver(writer domain.BlobWriter, trades domain.TradeStore, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		writer: writer,
		trades: trades,
		logger: logger.With(slog.String("component", "trade_archiver")),
	}
}

// archivedTrade is the JSONL row format. Kept separate from domain.Trade so
// the archive format stays stable if the domain type evolves.
type archivedTrade struct {
	ID          string  `json:"id"`
	BotID       string  `json:"bot_id"`
	Instrument  string  `json:"instrument"`
	Side        string  `json:"side"`
	Amount      float64 `json:"amount"`
	Price       float64 `json:"price"`
	Fee         float64 `json:"fee"`
	RealizedPnL float64 `json:"realized_pnl"`
	ExitReason  string  `json:"exit_reason,omitempty"`
	ExecutedAt  string  `json:"executed_at"`
}

// ArchiveTrades moves trades older than the cutoff to cold storage at
// archive/trades/YYYY-MM.jsonl and deletes them from the ledger. It returns
// the number of rows archived.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListSettledBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	rows := make([]archivedTrade, len(trades))
	for i, t := range trades {
		rows[i] = archivedTrade{
			ID:          t.ID,
			BotID:       t.BotID,
			Instrument:  t.Instrument,
			Side:        string(t.Side),
			Amount:      t.Amount,
			Price:       t.Price,
			Fee:         t.Fee,
			RealizedPnL: t.RealizedPnL,
			ExitReason:  string(t.ExitReason),
			ExecutedAt:  t.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	// Prune only rows covered by the uploaded batch, not everything before
	// the cutoff, in case the batch was truncated.
	pruneBefore := before
	if len(trades) == archiveBatchSize {
		pruneBefore = trades[len(trades)-1].Timestamp.Add(time.Nanosecond)
	}
	deleted, err := a.trades.DeleteBefore(ctx, pruneBefore)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	a.logger.Info("trades archived",
		slog.String("path", path),
		slog.Int("archived", len(trades)),
		slog.Int64("pruned", deleted))
	return int64(len(trades)), nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*TradeArchiver)(nil)
