package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/orchestrator"
)

// BotService defines the orchestrator methods the bot handler requires.
type BotService interface {
	AddBot(bot domain.Bot, interval time.Duration) error
	StartBot(ctx context.Context, botID string) error
	StopBot(botID string) error
	Bot(botID string) (orchestrator.BotView, error)
	SystemStatus() orchestrator.SystemStatus
}

// BotHandler serves the bot registry and per-bot control endpoints.
type BotHandler struct {
	bots   BotService
	trades domain.TradeStore
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler with the given service, trade store and
// logger. The trade store may be nil when persistence is disabled; the trades
// endpoint then returns 501.
func NewBotHandler(bots BotService, trades domain.TradeStore, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		bots:   bots,
		trades: trades,
		logger: logger,
	}
}

// createBotRequest is the JSON body for registering a new bot.
type createBotRequest struct {
	Instrument      string  `json:"instrument"`
	Timeframe       string  `json:"timeframe"`
	Mode            string  `json:"mode"`
	IntervalSeconds int     `json:"interval_seconds"`
	MaxPositionSize float64 `json:"max_position_size"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	RiskPerTrade    float64 `json:"risk_per_trade"`
}

// listBotsResponse wraps the bot list response.
type listBotsResponse struct {
	Bots []orchestrator.BotView `json:"bots"`
}

// listTradesResponse wraps the per-bot trade history response.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListBots returns every registered bot with its open position, if any.
// GET /api/bots
func (h *BotHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	status := h.bots.SystemStatus()
	bots := status.Bots
	if bots == nil {
		bots = []orchestrator.BotView{}
	}
	writeJSON(w, http.StatusOK, listBotsResponse{Bots: bots})
}

// CreateBot registers a new bot in the stopped state and returns its ID.
// POST /api/bots
func (h *BotHandler) CreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Instrument == "" {
		writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	mode := domain.BotMode(req.Mode)
	if mode != domain.BotModePaper && mode != domain.BotModeLive {
		writeError(w, http.StatusBadRequest, "mode must be \"paper\" or \"live\"")
		return
	}
	if req.IntervalSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "interval_seconds must be positive")
		return
	}

	bot := domain.Bot{
		ID:         uuid.NewString(),
		Instrument: req.Instrument,
		Timeframe:  req.Timeframe,
		Mode:       mode,
		Config: domain.BotConfig{
			MaxPositionSize: req.MaxPositionSize,
			StopLossPct:     req.StopLossPct,
			TakeProfitPct:   req.TakeProfitPct,
			RiskPerTrade:    req.RiskPerTrade,
		},
	}

	if err := h.bots.AddBot(bot, time.Duration(req.IntervalSeconds)*time.Second); err != nil {
		h.writeBotError(w, r, err, "create bot")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: bot created",
		slog.String("bot_id", bot.ID),
		slog.String("instrument", bot.Instrument),
	)
	writeJSON(w, http.StatusCreated, map[string]string{"id": bot.ID})
}

// GetBot returns a single bot's view.
// GET /api/bots/{id}
func (h *BotHandler) GetBot(w http.ResponseWriter, r *http.Request) {
	view, err := h.bots.Bot(pathParam(r, "id"))
	if err != nil {
		h.writeBotError(w, r, err, "get bot")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// StartBot launches the bot's execution loop.
// POST /api/bots/{id}/start
func (h *BotHandler) StartBot(w http.ResponseWriter, r *http.Request) {
	botID := pathParam(r, "id")
	if err := h.bots.StartBot(r.Context(), botID); err != nil {
		h.writeBotError(w, r, err, "start bot")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: bot started", slog.String("bot_id", botID))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.BotStatusRunning)})
}

// StopBot cancels the bot's loop, waiting for any in-flight cycle.
// POST /api/bots/{id}/stop
func (h *BotHandler) StopBot(w http.ResponseWriter, r *http.Request) {
	botID := pathParam(r, "id")
	if err := h.bots.StopBot(botID); err != nil {
		h.writeBotError(w, r, err, "stop bot")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: bot stopped", slog.String("bot_id", botID))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.BotStatusStopped)})
}

// ListTrades returns the bot's trade history, newest first. Supports limit,
// offset, since and until (RFC 3339) query parameters.
// GET /api/bots/{id}/trades
func (h *BotHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusNotImplemented, "trade persistence is disabled")
		return
	}

	botID := pathParam(r, "id")
	if _, err := h.bots.Bot(botID); err != nil {
		h.writeBotError(w, r, err, "list trades")
		return
	}

	opts := parseListOpts(r)
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		opts.Since = &ts
	}
	if v := r.URL.Query().Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC 3339")
			return
		}
		opts.Until = &ts
	}

	trades, err := h.trades.ListByBot(r.Context(), botID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("bot_id", botID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// writeBotError maps domain errors to HTTP status codes.
func (h *BotHandler) writeBotError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var ve *domain.ValidationError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "bot not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "bot already exists")
	case errors.Is(err, domain.ErrBotRunning):
		writeError(w, http.StatusConflict, "bot is already running")
	case errors.Is(err, domain.ErrBotStopped):
		writeError(w, http.StatusConflict, "bot is not running")
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
