package bus

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// MemoryBus implements Bus on watermill's in-process GoChannel. It satisfies
// the same contract as the Redis bus for single-process deployments and
// tests; cross-process fan-out obviously needs the Redis one.
type MemoryBus struct {
	channel *gochannel.GoChannel
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		channel: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.channel.Publish(channel, msg)
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string, h Handler) error {
	messages, err := b.channel.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			h(channel, msg.Payload)
			msg.Ack()
		}
		slog.Debug("bus: subscription ended", "channel", channel)
	}()

	return nil
}

func (b *MemoryBus) Close() error {
	return b.channel.Close()
}
