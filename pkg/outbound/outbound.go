// Package outbound hands created messages to the channel-specific send
// pipelines. Delivery internals live behind the topic boundary.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// OutboundTopic carries message IDs awaiting channel delivery.
const OutboundTopic = "omini.outbound"

// Delivery enqueues a created message for channel delivery.
type Delivery interface {
	EnqueueOutbound(ctx context.Context, messageID string) error
}

type outboundPayload struct {
	MessageID string `json:"message_id"`
}

// WatermillDelivery publishes outbound message IDs on a watermill topic
// consumed by the send pipelines.
type WatermillDelivery struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewWatermillDelivery(publisher message.Publisher, logger *slog.Logger) *WatermillDelivery {
	return &WatermillDelivery{
		publisher: publisher,
		logger:    logger.With("module", "outbound_delivery"),
	}
}

func (d *WatermillDelivery) EnqueueOutbound(ctx context.Context, messageID string) error {
	payload, err := json.Marshal(outboundPayload{MessageID: messageID})
	if err != nil {
		return fmt.Errorf("failed to marshal outbound payload: %w", err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)

	err = d.publisher.Publish(OutboundTopic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish outbound message: %w", err)
	}

	d.logger.DebugContext(ctx, "Enqueued outbound message", "message_id", messageID)

	return nil
}
