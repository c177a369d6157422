// Package eventbus provides event-driven notification infrastructure for process step outcomes.
package eventbus

import (
	"context"

	"github.com/dukex/portal-processes/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// NoopPublisher drops every event. It is used when no event bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, Event) error {
	return nil
}
