package bus

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans out over Redis pub/sub. Redis delivers to every subscribed
// connection in publish order per channel, which is exactly the ordering
// contract rooms need.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) error {
	pubsub := b.client.Subscribe(ctx, channel)

	// Force the SUBSCRIBE round-trip so the caller never misses messages
	// published after Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("bus: redis subscription closed", "channel", channel)
					return
				}
				h(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	return nil
}
