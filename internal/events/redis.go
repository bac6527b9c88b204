package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans events out over Redis pub/sub so that several engine
// replicas can serve the same session stream.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to Redis and verifies the connection
func NewRedisBus(ctx context.Context, address, password string, db int) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis event bus connected", "address", address, "db", db)
	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(ev.SessionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, Channel(sessionID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("discarding malformed event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					slog.Warn("dropping event for slow subscriber",
						"session_id", sessionID,
						"type", ev.Type,
					)
				}
			}
		}
	}()

	return out, cancel, nil
}

// Ping verifies Redis connectivity
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
