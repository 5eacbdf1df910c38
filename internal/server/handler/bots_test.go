package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/orchestrator"
)

type fakeBots struct {
	bots    map[string]domain.Bot
	started map[string]bool
	addErr  error
}

func newFakeBots() *fakeBots {
	return &fakeBots{
		bots:    make(map[string]domain.Bot),
		started: make(map[string]bool),
	}
}

func (f *fakeBots) AddBot(bot domain.Bot, interval time.Duration) error {
	if f.addErr != nil {
		return f.addErr
	}
	if err := bot.Config.Validate(); err != nil {
		return err
	}
	if _, ok := f.bots[bot.ID]; ok {
		return fmt.Errorf("bot %s: %w", bot.ID, domain.ErrAlreadyExists)
	}
	bot.Status = domain.BotStatusStopped
	f.bots[bot.ID] = bot
	return nil
}

func (f *fakeBots) StartBot(ctx context.Context, botID string) error {
	if _, ok := f.bots[botID]; !ok {
		return fmt.Errorf("bot %s: %w", botID, domain.ErrNotFound)
	}
	if f.started[botID] {
		return domain.ErrBotRunning
	}
	f.started[botID] = true
	return nil
}

func (f *fakeBots) StopBot(botID string) error {
	if _, ok := f.bots[botID]; !ok {
		return fmt.Errorf("bot %s: %w", botID, domain.ErrNotFound)
	}
	if !f.started[botID] {
		return domain.ErrBotStopped
	}
	f.started[botID] = false
	return nil
}

func (f *fakeBots) Bot(botID string) (orchestrator.BotView, error) {
	bot, ok := f.bots[botID]
	if !ok {
		return orchestrator.BotView{}, fmt.Errorf("bot %s: %w", botID, domain.ErrNotFound)
	}
	return orchestrator.BotView{Bot: bot}, nil
}

func (f *fakeBots) SystemStatus() orchestrator.SystemStatus {
	status := orchestrator.SystemStatus{GeneratedAt: time.Now().UTC()}
	for _, bot := range f.bots {
		status.Bots = append(status.Bots, orchestrator.BotView{Bot: bot})
	}
	return status
}

type stubTrades struct {
	domain.TradeStore
	trades []domain.Trade
	gotBot string
}

func (s *stubTrades) ListByBot(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.gotBot = botID
	return s.trades, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBotMux registers the bot routes the way the server does, so path
// parameters resolve in tests.
func newBotMux(h *BotHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/bots", h.ListBots)
	mux.HandleFunc("POST /api/bots", h.CreateBot)
	mux.HandleFunc("GET /api/bots/{id}", h.GetBot)
	mux.HandleFunc("POST /api/bots/{id}/start", h.StartBot)
	mux.HandleFunc("POST /api/bots/{id}/stop", h.StopBot)
	mux.HandleFunc("GET /api/bots/{id}/trades", h.ListTrades)
	return mux
}

func createBotBody() string {
	return `{
		"instrument": "BTC/USDT",
		"timeframe": "1m",
		"mode": "paper",
		"interval_seconds": 60,
		"max_position_size": 5,
		"risk_per_trade": 0.02
	}`
}

func TestCreateBotReturnsID(t *testing.T) {
	bots := newFakeBots()
	h := NewBotHandler(bots, nil, testLogger())
	mux := newBotMux(h)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/bots", strings.NewReader(createBotBody()))
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Contains(t, bots.bots, resp["id"])
}

func TestCreateBotRejectsBadMode(t *testing.T) {
	h := NewBotHandler(newFakeBots(), nil, testLogger())
	mux := newBotMux(h)

	body := strings.Replace(createBotBody(), `"paper"`, `"turbo"`, 1)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bots", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBotRejectsInvalidConfig(t *testing.T) {
	h := NewBotHandler(newFakeBots(), nil, testLogger())
	mux := newBotMux(h)

	// Zero max position size fails config validation.
	body := strings.Replace(createBotBody(), `"max_position_size": 5`, `"max_position_size": 0`, 1)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bots", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "maxPositionSize")
}

func TestStartStopBotLifecycle(t *testing.T) {
	bots := newFakeBots()
	require.NoError(t, bots.AddBot(domain.Bot{
		ID:         "bot-1",
		Instrument: "BTC/USDT",
		Config:     domain.BotConfig{MaxPositionSize: 1, RiskPerTrade: 0.02},
	}, time.Minute))

	h := NewBotHandler(bots, nil, testLogger())
	mux := newBotMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bots/bot-1/start", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Starting again conflicts.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bots/bot-1/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bots/bot-1/stop", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBotNotFoundMapsTo404(t *testing.T) {
	h := NewBotHandler(newFakeBots(), nil, testLogger())
	mux := newBotMux(h)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/bots/ghost"},
		{http.MethodPost, "/api/bots/ghost/start"},
		{http.MethodPost, "/api/bots/ghost/stop"},
		{http.MethodGet, "/api/bots/ghost/trades"},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestListTrades(t *testing.T) {
	bots := newFakeBots()
	require.NoError(t, bots.AddBot(domain.Bot{
		ID:         "bot-1",
		Instrument: "BTC/USDT",
		Config:     domain.BotConfig{MaxPositionSize: 1, RiskPerTrade: 0.02},
	}, time.Minute))

	trades := &stubTrades{trades: []domain.Trade{
		{ID: "t1", BotID: "bot-1", Side: domain.OrderSideSell, RealizedPnL: 3},
	}}
	h := NewBotHandler(bots, trades, testLogger())
	mux := newBotMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bots/bot-1/trades?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "bot-1", trades.gotBot)

	var resp listTradesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "t1", resp.Trades[0].ID)
}

func TestListTradesRejectsBadSince(t *testing.T) {
	bots := newFakeBots()
	require.NoError(t, bots.AddBot(domain.Bot{
		ID:         "bot-1",
		Instrument: "BTC/USDT",
		Config:     domain.BotConfig{MaxPositionSize: 1, RiskPerTrade: 0.02},
	}, time.Minute))

	h := NewBotHandler(bots, &stubTrades{}, testLogger())
	mux := newBotMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bots/bot-1/trades?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeStatusSource struct {
	status   orchestrator.SystemStatus
	resetOK  bool
	resetHit int
}

func (f *fakeStatusSource) SystemStatus() orchestrator.SystemStatus { return f.status }
func (f *fakeStatusSource) ResetCircuitBreaker() bool {
	f.resetHit++
	return f.resetOK
}

func TestGetStatusIncludesMode(t *testing.T) {
	src := &fakeStatusSource{status: orchestrator.SystemStatus{
		Circuit: domain.CircuitState{IsOpen: true, Reason: "Daily loss limit exceeded: 5.00%"},
	}}
	h := NewStatusHandler(src, "paper", testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "paper", resp["mode"])
}

func TestResetCircuitBreaker(t *testing.T) {
	src := &fakeStatusSource{resetOK: true}
	h := NewStatusHandler(src, "paper", testLogger())

	rec := httptest.NewRecorder()
	h.ResetCircuitBreaker(rec, httptest.NewRequest(http.MethodPost, "/api/circuit-breaker/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, src.resetHit)

	// During cooldown the reset is refused.
	src.resetOK = false
	rec = httptest.NewRecorder()
	h.ResetCircuitBreaker(rec, httptest.NewRequest(http.MethodPost, "/api/circuit-breaker/reset", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type fakeHealth struct {
	status domain.HealthStatus
}

func (f *fakeHealth) Status() domain.HealthStatus { return f.status }

func TestHealthCheckReportsDegraded(t *testing.T) {
	h := NewHealthHandler(&fakeHealth{status: domain.HealthStatus{IsHealthy: true}}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(&fakeHealth{status: domain.HealthStatus{
		IsHealthy: false,
		Reason:    "latency above threshold",
	}}, testLogger())

	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

type fakeEventReader struct {
	msgs []domain.StreamMessage
	err  error
}

func (f *fakeEventReader) StreamRead(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	return f.msgs, f.err
}

func TestListEventsReturnsCursor(t *testing.T) {
	reader := &fakeEventReader{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"trade_executed"}`)},
		{ID: "2-0", Payload: []byte(`{"type":"circuit_open"}`)},
	}}
	h := NewEventsHandler(reader, testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "2-0", resp.NextID)
}

func TestListEventsWithoutBusReturns501(t *testing.T) {
	h := NewEventsHandler(nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
