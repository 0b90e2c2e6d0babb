// Package cmd provides shared wiring helpers for the loom binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/loomctl/loom/pkg/channels/gochannel"
	"github.com/loomctl/loom/pkg/channels/kafka"
	"github.com/loomctl/loom/pkg/eventbus"
)

// NewEventBus creates the event bus for the given provider. "kafka"
// connects to the brokers named in KAFKA_BROKERS; "gochannel" keeps
// delivery in-process for single-binary deployments.
func NewEventBus(provider, serviceName string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
