package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// EventReader replays events from the durable stream.
type EventReader interface {
	StreamRead(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves the event replay endpoint backed by the durable
// stream. Live consumers should use the WebSocket endpoint instead.
type EventsHandler struct {
	events EventReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler. The reader may be nil when the
// event bus is disabled; the endpoint then returns 501.
func NewEventsHandler(events EventReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: logger}
}

// streamEvent is one replayed stream entry. Event is the JSON payload as it
// was published.
type streamEvent struct {
	StreamID string          `json:"stream_id"`
	Event    json.RawMessage `json:"event"`
}

// listEventsResponse wraps the event replay response. NextID is the cursor
// for the follow-up request, empty when the stream is exhausted.
type listEventsResponse struct {
	Events []streamEvent `json:"events"`
	NextID string        `json:"next_id,omitempty"`
}

// ListEvents replays events after the given stream cursor.
// GET /api/events?after=<stream id>&limit=<n>
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event stream is disabled")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	msgs, err := h.events.StreamRead(r.Context(), after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: event replay failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	resp := listEventsResponse{Events: make([]streamEvent, 0, len(msgs))}
	for _, m := range msgs {
		resp.Events = append(resp.Events, streamEvent{
			StreamID: m.ID,
			Event:    json.RawMessage(m.Payload),
		})
	}
	if len(msgs) > 0 {
		resp.NextID = msgs[len(msgs)-1].ID
	}

	writeJSON(w, http.StatusOK, resp)
}
