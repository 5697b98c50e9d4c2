// Package main runs the scheduler: the centralized time-trigger poller and
// the overdue delayed-step sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/Jcateye/omini-channel/pkg/cmd"
	"github.com/Jcateye/omini-channel/pkg/journey"
	"github.com/Jcateye/omini-channel/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "omini-scheduler",
		Usage:                 "Start the time-trigger scheduler",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to scan for due triggers",
				Value:   journey.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runScheduler,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func runScheduler(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("omini-scheduler")
	logger.InfoContext(ctx, "Initializing scheduler")

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "omini-scheduler", logger)
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

	poller := journey.NewPoller(persistence, eventBus, stepQueue, logger, command.Duration("poll-interval"))

	schedulerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := poller.Start(schedulerCtx)
	if err != nil {
		return err
	}

	// First scan immediately so a restart doesn't wait a full interval.
	poller.Poll(schedulerCtx, time.Now().UTC())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	<-signals
	logger.InfoContext(ctx, "Shutting down scheduler")

	return poller.Stop(ctx)
}
