package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/chatflow/pkg/channels/gochannel"
	"github.com/dukex/chatflow/pkg/channels/kafka"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/google/uuid"
)

const serviceName = "chatflow"

// Runner is implemented by buses that pump a shared transport into the local hub.
type Runner interface {
	Run(ctx context.Context) error
}

// NewEventBus builds the live-chat bus: "memory" fans out in process only,
// "gochannel" and "kafka" go through watermill.
func NewEventBus(provider string, logger *slog.Logger, kafkaBrokers string) (eventbus.EventBus, error) {
	hub := eventbus.NewHub(logger)
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "memory":
		return hub, nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub, hub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(kafkaBrokers), serviceName, instanceID())
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub, hub), nil
	default:
		_ = hub.Close()

		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}

	return uuid.NewString()
}
