package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes events to a Redis pub/sub channel so sibling services
// (mailers, CRM sync, notification fanout) can react without polling.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBus connects to Redis at addr and publishes on the given channel.
func NewRedisBus(addr, channel string, logger *slog.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisBus{client: client, channel: channel, logger: logger}, nil
}

// Publish marshals the event and publishes it on the bus channel.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe consumes the bus channel, decoding and filtering events.
// The returned channel closes when the subscription is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	ch := make(chan Event, defaultChannelBuffer)
	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping undecodable bus event", "error", err)
				continue
			}
			if !matchFilter(filter, event) {
				continue
			}
			select {
			case ch <- event:
			default:
				// backpressure: drop event for slow subscriber
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return ch, cancel, nil
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
