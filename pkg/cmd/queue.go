package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/Jcateye/omini-channel/pkg/channels/gochannel"
	"github.com/Jcateye/omini-channel/pkg/queue"
)

// NewQueue creates the step job queue. A redis://... URL selects the Redis
// queue with persistent delayed delivery; an empty URL falls back to the
// in-process queue.
func NewQueue(queueURL string, logger *slog.Logger) queue.Queue {
	if queueURL == "" {
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-process queue channel: %w", err))
		}

		return queue.NewMemoryQueue(pub, sub, logger)
	}

	q, err := queue.NewRedisQueue(queueURL, logger)
	if err != nil {
		panic(fmt.Errorf("failed to create redis queue: %w", err))
	}

	return q
}
