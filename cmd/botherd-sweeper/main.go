package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/dmateus/botherd/pkg/cmd"
	"github.com/dmateus/botherd/pkg/eventbus"
	"github.com/dmateus/botherd/pkg/events"
	"github.com/dmateus/botherd/pkg/log"
	"github.com/dmateus/botherd/pkg/otelhelper"
	"github.com/dmateus/botherd/pkg/retry"
	"github.com/dmateus/botherd/pkg/scheduler"
)

func main() {
	logger := log.WithModule("sweeper")

	command := &cli.Command{
		Name:                  "botherd-sweeper",
		Usage:                 "Periodically assign ready tasks and retry failed assignments",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka or gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringSliceFlag{
				Name:     "workspaces",
				Usage:    "Workspace ids to sweep",
				Required: true,
				Sources:  cli.EnvVars("WORKSPACES"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule for the sweep pass",
				Value:   "@every 30s",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the shared retry queue (in-memory when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
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

			logger.InfoContext(ctx, "Initializing Botherd Sweeper")

			tracerProvider, err := otelhelper.InitTracer(ctx, "botherd-sweeper")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			tracer := tracerProvider.Tracer("botherd-sweeper")

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"botherd-sweeper",
				logger,
			)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			// Mirror orchestration events into the log; spans make the
			// consumer visible alongside the sweep traces.
			err = eventBus.Subscribe(ctx, eventbus.TracedHandler(tracer,
				func(ctx context.Context, eventType events.EventType, payload []byte) error {
					logger.InfoContext(ctx, "Orchestration event", "event_type", eventType, "payload_bytes", len(payload))

					return nil
				}))
			if err != nil {
				return err
			}

			queue, err := newRetryQueue(command.String("redis-url"))
			if err != nil {
				return err
			}

			clock := clockwork.NewRealClock()
			sched := scheduler.NewScheduler(persistence, eventBus, clock, logger)
			policy := retry.NewPolicy(persistence, eventBus, clock, queue, logger)

			sweeper := NewSweeper(logger, sched, policy, command.StringSlice("workspaces"))

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return sweeper.Start(runCtx, command.String("schedule"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func newRetryQueue(redisURL string) (retry.Queue, error) {
	if redisURL == "" {
		return retry.NewMemoryQueue(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return retry.NewRedisQueue(redis.NewClient(opts)), nil
}
