package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/chatflow/pkg/events"
)

// WatermillEventBus carries events between instances over a watermill
// transport and fans them out through a local Hub on every instance.
// Publish never delivers locally: the event reaches local subscribers when
// it comes back from the transport, so each instance sees it exactly once.
type WatermillEventBus struct {
	logger     *slog.Logger
	publisher  message.Publisher
	subscriber message.Subscriber
	hub        *Hub
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber, hub *Hub) *WatermillEventBus {
	return &WatermillEventBus{
		logger:     logger.With("module", "watermill_event_bus"),
		publisher:  pub,
		subscriber: sub,
		hub:        hub,
	}
}

func (eb *WatermillEventBus) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, event.GetScope().OrganizationID)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.Metadata.Set(events.PartitionKeyMetadataKey, events.PartitionKey(event.GetScope()))

	return eb.publisher.Publish(events.Topic, msg)
}

// Run consumes the transport topic and re-publishes into the local hub until
// ctx is cancelled.
func (eb *WatermillEventBus) Run(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		event, err := events.Decode(eventType, msg.Payload)
		if err != nil {
			eb.logger.ErrorContext(ctx, "Dropping undecodable event", "message_id", msg.UUID, "error", err)
			msg.Ack()

			continue
		}

		if err := eb.hub.Publish(ctx, event); err != nil {
			eb.logger.ErrorContext(ctx, "Failed to fan out event", "event_id", event.GetID(), "error", err)
			msg.Nack()

			continue
		}

		msg.Ack()
	}

	return nil
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, scope events.Scope) (*Subscription, error) {
	return eb.hub.Subscribe(ctx, scope)
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) {
	eb.hub.Handle(eventType, handler)
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	if err := eb.subscriber.Close(); err != nil {
		return err
	}

	return eb.hub.Close()
}
