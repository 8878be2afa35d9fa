package event

import (
	"context"
	"fmt"
)

// Handler processes one delivered event. Returning an error leaves the
// message unacknowledged so the bus redelivers it. Handlers must be
// idempotent.
type Handler func(ctx context.Context, evt *Event) error

// Bus is a publish/subscribe broker adapter.
type Bus interface {
	// Publish sends evt on evt.Topic.
	Publish(ctx context.Context, evt *Event) error

	// Subscribe registers handler as a consumer of topic within group and
	// returns once the subscription is established. Consumers in the same
	// group share the stream; each message goes to one of them. Delivery
	// stops when ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, topic Topic, group string, handler Handler) error

	// Close stops all subscriptions and waits for running handlers.
	Close() error
}

// Noop returns a bus that drops every publish and never delivers. It
// stands in when no broker is configured.
func Noop() Bus { return noopBus{} }

type noopBus struct{}

func (noopBus) Publish(context.Context, *Event) error { return nil }

func (noopBus) Subscribe(context.Context, Topic, string, Handler) error { return nil }

func (noopBus) Close() error { return nil }

// SafeHandle runs h and converts a panic into an error.
func SafeHandle(ctx context.Context, h Handler, evt *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event: handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}
