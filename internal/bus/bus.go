// Package bus is the fan-out transport used to broadcast chat events to
// connections held by every server process, including the publisher's own.
// Delivery is at-least-once, ordered within a channel, and not persisted:
// anything durable must already be written before publishing.
package bus

import "context"

// Handler is invoked for each message delivered on a subscribed channel.
// Handlers for a single channel are called in publish order.
type Handler func(channel string, payload []byte)

type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages on channel to h until ctx is cancelled.
	// It returns once the subscription is active.
	Subscribe(ctx context.Context, channel string, h Handler) error
}
