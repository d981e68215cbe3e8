// Package eventbus provides the live-chat event fan-out to push subscribers.
package eventbus

import (
	"context"

	"github.com/dukex/chatflow/pkg/events"
)

// EventPublisher accepts a live-chat event for delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// EventSubscriber registers push subscribers for a scope.
type EventSubscriber interface {
	Subscribe(ctx context.Context, scope events.Scope) (*Subscription, error)
}

// EventHandler reacts to events inside the process (e.g. the assignment engine).
type EventHandler func(ctx context.Context, event events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Handle(eventType events.EventType, handler EventHandler)
	Close() error
}
