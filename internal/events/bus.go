package events

import (
	"context"
	"fmt"
)

// Handler processes one delivery. Returning nil acknowledges the message; any
// other error negatively acknowledges it for redelivery.
type Handler func(ctx context.Context, env Envelope) error

// SubscribeOptions configures one consumer.
type SubscribeOptions struct {
	Queue       string
	Prefetch    int
	ConsumerTag string
}

// Subscription is a running consumer.
type Subscription interface {
	Close() error
}

// Publisher sends envelopes to an exchange.
type Publisher interface {
	Publish(ctx context.Context, route Route, env Envelope) error
}

// Bus is the broker surface used by the services.
type Bus interface {
	Publisher
	Declare(ctx context.Context, topology Topology) error
	Subscribe(ctx context.Context, opts SubscribeOptions, h Handler) (Subscription, error)
}

// Publish encodes a protocol message and sends it on its route.
func Publish(ctx context.Context, p Publisher, m Message) error {
	env, err := Encode(m)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, m.Route(), env); err != nil {
		return fmt.Errorf("publish %s: %w", m.MessageType(), err)
	}
	return nil
}
