package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Austen0305/Crypto-Orchestrator-sub000/internal/domain"
)

const (
	// eventStream is the durable stream every event is appended to,
	// trimmed approximately via XADD MAXLEN ~.
	eventStream       = "orch:events"
	eventStreamMaxLen = 10000

	// eventChannelPrefix namespaces the per-type Pub/Sub channels.
	eventChannelPrefix = "orch:events:"
)

// EventBus implements domain.EventBus using Redis Pub/Sub for live fan-out
// and a Redis Stream for durable, ordered replay.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

func eventChannel(t domain.EventType) string {
	return eventChannelPrefix + string(t)
}

// Publish JSON-encodes the event, fans it out on its type channel and
// appends it to the durable stream.
func (eb *EventBus) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", event.Type, err)
	}

	pipe := eb.rdb.TxPipeline()
	pipe.Publish(ctx, eventChannel(event.Type), payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe returns a channel of decoded events for the given types, or all
// types when none are named. The subscription closes with the context.
func (eb *EventBus) Subscribe(ctx context.Context, types ...domain.EventType) (<-chan domain.Event, error) {
	var pubsub *redis.PubSub
	if len(types) == 0 {
		pubsub = eb.rdb.PSubscribe(ctx, eventChannelPrefix+"*")
	} else {
		channels := make([]string, len(types))
		for i, t := range types {
			channels[i] = eventChannel(t)
		}
		pubsub = eb.rdb.Subscribe(ctx, channels...)
	}

	// Verify the subscription is established.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe events: %w", err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamRead reads up to count entries from the durable event stream after
// lastID. Use "0" to read from the beginning. It returns an empty slice, not
// an error, when nothing is available.
func (eb *EventBus) StreamRead(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	results, err := eb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{eventStream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read event stream: %w", err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
