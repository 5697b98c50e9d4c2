// Package cmd provides common initialization for the command-line entry
// points: event bus, queue, and persistence factories selected by URL or
// provider name.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/Jcateye/omini-channel/pkg/channels/gochannel"
	"github.com/Jcateye/omini-channel/pkg/channels/kafka"
	"github.com/Jcateye/omini-channel/pkg/eventbus"
	"github.com/Jcateye/omini-channel/pkg/outbound"
)

// NewEventBus creates an event bus for the given provider. "kafka" is the
// production transport; "gochannel" is in-process, for single-binary
// deployments and development.
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
			panic(fmt.Errorf("failed to create in-process pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}

// NewOutboundDelivery creates the outbound message hand-off on the same
// transport as the event bus.
func NewOutboundDelivery(provider, serviceName string, logger *slog.Logger) outbound.Delivery {
	switch provider {
	case "kafka":
		pub, _, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName+"-outbound")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka publisher: %w", err))
		}

		return outbound.NewWatermillDelivery(pub, logger)
	case "gochannel":
		pub, _, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-process publisher: %w", err))
		}

		return outbound.NewWatermillDelivery(pub, logger)
	default:
		panic("Unsupported outbound delivery provider: " + provider)
	}
}
