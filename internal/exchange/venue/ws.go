package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Ticker is one live price update from the stream.
type Ticker struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// TickerHandler is called for every ticker message received.
type TickerHandler func(Ticker)

// wsCommand is the subscribe/unsubscribe frame.
type wsCommand struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// WSClient streams live tickers from the venue. It manages the connection
// lifecycle and dispatches messages to registered handlers.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []string

	handlerMu sync.RWMutex
	handlers  []TickerHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a stream client for the given WebSocket URL.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "venue_ws")),
		done:   make(chan struct{}),
	}
}

// OnTicker registers a handler for incoming tickers.
func (w *WSClient) OnTicker(h TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("venue/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return &domain.ConnectivityError{Op: "ws connect", Err: err}
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		if err := w.sendCommand(wsCommand{Type: "subscribe", Instruments: w.subscriptions}); err != nil {
			return fmt.Errorf("venue/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to ticker updates for the given instruments.
func (w *WSClient) Subscribe(instruments []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("venue/ws: not connected")
	}

	if err := w.sendCommand(wsCommand{Type: "subscribe", Instruments: instruments}); err != nil {
		return fmt.Errorf("venue/ws: subscribe: %w", err)
	}
	w.subscriptions = append(w.subscriptions, instruments...)
	return nil
}

// Close shuts the client down permanently.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		return w.conn.Close()
	}
	return nil
}

// sendCommand writes a JSON frame. Caller holds w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(cmd)
}

// readLoop reads frames until the connection drops or Close is called.
func (w *WSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.logger.Warn("stream read failed", slog.String("error", err.Error()))
			}
			return
		}

		var tick Ticker
		if err := json.Unmarshal(data, &tick); err != nil {
			w.logger.Debug("skipping malformed stream frame", slog.String("error", err.Error()))
			continue
		}

		w.handlerMu.RLock()
		handlers := w.handlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(tick)
		}
	}
}

// pingLoop keeps the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.logger.Warn("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
