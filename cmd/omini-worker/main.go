// Package main runs the step worker: it consumes step-execution jobs and
// advances journey runs one node at a time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/Jcateye/omini-channel/pkg/cmd"
	"github.com/Jcateye/omini-channel/pkg/journey"
	"github.com/Jcateye/omini-channel/pkg/log"
	"github.com/Jcateye/omini-channel/pkg/tracing"
)

func main() {
	command := &cli.Command{
		Name:                  "omini-worker",
		Usage:                 "Start the journey step worker",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Redis URL for the step queue (in-process queue if empty)",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runWorker,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func runWorker(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("omini-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing step worker")

	tracer, err := tracing.NewTracer(ctx, "omini-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := tracing.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "omini-worker", logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	stepQueue := cmd.NewQueue(command.String("queue-url"), logger)
	defer func() {
		if err := stepQueue.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	delivery := cmd.NewOutboundDelivery(command.String("event-bus"), "omini-worker", logger)

	monitor := journey.NewMonitor(persistence, eventBus, logger)
	dispatcher := journey.NewDispatcher(persistence, stepQueue, monitor, delivery, eventBus, logger, tracer)
	dispatcher.Register()

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = stepQueue.Subscribe(workerCtx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to step queue: %w", err)
	}

	logger.InfoContext(ctx, "Step worker started")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	<-signals
	logger.InfoContext(ctx, "Shutting down step worker")
	cancel()

	return nil
}
