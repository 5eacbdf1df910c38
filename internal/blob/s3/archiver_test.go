package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func (w *memWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if w.failPut {
		return context.DeadlineExceeded
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = buf
	return nil
}

type memTrades struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *memTrades) Insert(ctx context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTrades) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	for _, t := range trades {
		_ = s.Insert(ctx, t)
	}
	return nil
}

func (s *memTrades) ListByBot(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTrades) ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memTrades) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.Trade
	var deleted int64
	for _, t := range s.trades {
		if t.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.trades = kept
	return deleted, nil
}

func (s *memTrades) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.trades)), nil
}

func testTrade(id string, ts time.Time) domain.Trade {
	return domain.Trade{
		ID:          id,
		BotID:       "bot-1",
		Instrument:  "BTC/USDT",
		Side:        domain.OrderSideSell,
		Amount:      1,
		Price:       100,
		RealizedPnL: 5,
		ExitReason:  domain.ExitTakeProfit,
		Timestamp:   ts,
	}
}

func TestArchiveTradesUploadsAndPrunes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store := &memTrades{}
	require.NoError(t, store.Insert(context.Background(), testTrade("a", cutoff.Add(-48*time.Hour))))
	require.NoError(t, store.Insert(context.Background(), testTrade("b", cutoff.Add(-24*time.Hour))))
	require.NoError(t, store.Insert(context.Background(), testTrade("c", cutoff.Add(24*time.Hour))))

	writer := &memWriter{}
	archiver := NewTradeArchiver(writer, store, logger)

	n, err := archiver.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The recent trade survives the prune.
	remaining, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)

	data, ok := writer.objects["archive/trades/2025-06.jsonl"]
	require.True(t, ok, "archive object written under the year-month key")

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var row archivedTrade
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		ids = append(ids, row.ID)
		assert.Equal(t, "bot-1", row.BotID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	archiver := NewTradeArchiver(&memWriter{}, &memTrades{}, logger)

	n, err := archiver.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveTradesFailedUploadLeavesLedger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cutoff := time.Now().UTC()

	store := &memTrades{}
	require.NoError(t, store.Insert(context.Background(), testTrade("a", cutoff.Add(-time.Hour))))

	archiver := NewTradeArchiver(&memWriter{failPut: true}, store, logger)

	_, err := archiver.ArchiveTrades(context.Background(), cutoff)
	require.Error(t, err)

	remaining, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining, "rows stay until the upload succeeds")
}
