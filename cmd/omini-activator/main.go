// Package main runs the activator: it consumes platform events and launches
// journey runs for every matching enabled trigger.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/Jcateye/omini-channel/pkg/cmd"
	"github.com/Jcateye/omini-channel/pkg/journey"
	"github.com/Jcateye/omini-channel/pkg/log"
	"github.com/Jcateye/omini-channel/pkg/tracing"
)

func main() {
	command := &cli.Command{
		Name:                  "omini-activator",
		Usage:                 "Start the journey activator service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "activator-id",
				Aliases: []string{"id"},
				Usage:   "Custom activator ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ACTIVATOR_ID"),
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
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			activatorID := command.String("activator-id")
			if activatorID == "" {
				activatorID = "activator-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("omini-activator").With("activator_id", activatorID)
			logger.InfoContext(ctx, "Initializing activator")

			tracer, err := tracing.NewTracer(ctx, "omini-activator")
			if err != nil {
				return err
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

			eventBus := cmd.NewEventBus(command.String("event-bus"), "omini-activator", logger)
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

			launcher := journey.NewLauncher(persistence, stepQueue, eventBus, logger, tracer)
			activator := NewActivator(activatorID, eventBus, launcher, logger)

			return activator.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
