package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

// Relay subscribes to the event bus and forwards orchestrator events to the
// notifier, so operators hear about circuit trips, health flips and trade
// executions on their configured channels.
type Relay struct {
	bus      domain.EventBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay over the given bus and notifier.
func NewRelay(bus domain.EventBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run forwards events until ctx is cancelled. Delivery failures are logged
// and never stop the relay.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			title, message := formatEvent(event)
			if err := r.notifier.Notify(ctx, event.Type, title, message); err != nil {
				r.logger.Warn("notification delivery failed",
					slog.String("event", string(event.Type)),
					slog.String("error", err.Error()))
			}
		}
	}
}

// formatEvent renders an event as a short title and body for chat channels.
func formatEvent(event domain.Event) (title, message string) {
	switch event.Type {
	case domain.EventCircuitOpen:
		title = "Circuit breaker tripped"
	case domain.EventCircuitClosed:
		title = "Circuit breaker reset"
	case domain.EventHealthChanged:
		title = "Exchange health changed"
	case domain.EventRiskAlert:
		title = "Risk alert"
	case domain.EventTradeExecuted:
		title = "Trade executed"
	default:
		title = string(event.Type)
	}

	var b strings.Builder
	if event.BotID != "" {
		fmt.Fprintf(&b, "bot: %s\n", event.BotID)
	}
	if event.Reason != "" {
		fmt.Fprintf(&b, "%s\n", event.Reason)
	}
	for _, key := range []string{"instrument", "side", "price", "realized_pnl", "exit_reason"} {
		if v, ok := event.Payload[key]; ok && v != "" {
			fmt.Fprintf(&b, "%s: %v\n", key, v)
		}
	}
	return title, strings.TrimRight(b.String(), "\n")
}
