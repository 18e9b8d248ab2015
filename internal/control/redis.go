package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "crawl:events"

// RedisBus carries events over Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewRedisBus wraps an existing client. The bus does not own the client.
func NewRedisBus(client redis.UniversalClient, channel string, logger *zap.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, channel: channel, logger: logger}, nil
}

// Publish sends the event to the channel.
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish control event: %w", err)
	}
	return nil
}

// Subscribe opens a subscription that lives until ctx ends. Undecodable
// payloads are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	out := make(chan Event, defaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				b.logger.Debug("close control subscription", zap.Error(err))
			}
		}()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				evt, err := Decode([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn("discarding control event", zap.Error(err))
					continue
				}
				select {
				case out <- evt:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the caller owns the Redis client.
func (b *RedisBus) Close() error {
	return nil
}
