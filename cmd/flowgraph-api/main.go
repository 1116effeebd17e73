// Package main provides the flowgraph API server.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowgraph/pkg/cmd"
	"github.com/dukex/flowgraph/pkg/config"
	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/dukex/flowgraph/pkg/schedule"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/dukex/flowgraph/pkg/web"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 10 * time.Second
)

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "flowgraph-api",
		Usage:                 "Start and observe workflow executions over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis URL for execution records, event logs and the job queue",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Workflow store URL (redis://, postgres://, file://); defaults to the Redis URL",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-prefix",
				Usage:   "Key prefix of the job queue",
				Value:   dispatch.DefaultQueuePrefix,
				Sources: cli.EnvVars("QUEUE_PREFIX"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Asynchronous workers to run inside the API process (0 leaves jobs to flowgraph-worker)",
				Value:   0,
				Sources: cli.EnvVars("EMBEDDED_WORKERS"),
			},
			&cli.StringFlag{
				Name:    "schedules",
				Usage:   "JSON or YAML file of cron schedules to start executions on; run it on one API instance only",
				Sources: cli.EnvVars("SCHEDULES_FILE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Lifecycle event bus (gochannel, kafka); empty disables it",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers of the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "script-timeout",
				Usage:   "Wall-clock limit of transform and condition expressions",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("SCRIPT_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Flowgraph API")

			client := cmd.NewRedisClient(command.String("redis-url"))
			defer func() {
				if err := client.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
				}
			}()

			databaseURL := command.String("database-url")
			if databaseURL == "" {
				databaseURL = command.String("redis-url")
			}

			workflows := cmd.NewPersistence(ctx, logger, databaseURL, client)
			defer func() {
				if err := workflows.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger, "flowgraph-api", command.StringSlice("kafka-brokers"))
			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()

				if err := cmd.LogLifecycle(ctx, eventBus, logger); err != nil {
					return err
				}
			}

			metrics, metricsHandler := cmd.NewMetrics()
			tracer := cmd.NewTracer(ctx, logger, command.Bool("tracing"), "flowgraph-api")

			executions := redisstore.NewExecutions(client)
			eventLog := stream.NewRedis(client)
			registry := cmd.NewRegistry(logger, client, eventLog, command.Duration("script-timeout"))
			queue := dispatch.NewQueue(client, command.String("queue-prefix"))

			coordinator := engine.New(registry, eventLog, executions,
				engine.WithLogger(log.WithModule("engine")),
				engine.WithTracer(tracer),
				engine.WithMetrics(metrics),
				engine.WithCancellationCheck(executions),
			)

			service := dispatch.NewService(dispatch.Config{
				Coordinator: coordinator,
				Workflows:   workflows,
				Executions:  executions,
				Events:      eventLog,
				Queue:       queue,
				Bus:         eventBus,
				Metrics:     metrics,
			})

			if workers := command.Int("workers"); workers > 0 {
				pool := dispatch.NewPool(queue, service, dispatch.PoolConfig{
					Workers:  workers,
					WorkerID: "api-" + uuid.New().String()[:8],
					Metrics:  metrics,
				})
				if err := pool.Start(ctx); err != nil {
					return err
				}
				defer pool.Stop()
			}

			if path := command.String("schedules"); path != "" {
				entries, err := config.LoadSchedules(path)
				if err != nil {
					return err
				}

				scheduler := schedule.New(service, log.WithModule("schedule"))
				if err := scheduler.Add(entries...); err != nil {
					return err
				}

				scheduler.Start()
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
					defer cancel()

					if err := scheduler.Stop(stopCtx); err != nil {
						logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
					}
				}()
			}

			api := NewAPI(logger, web.NewAPIHandlers(web.Dependencies{
				Service:      service,
				Workflows:    workflows,
				Executions:   executions,
				Stream:       eventLog,
				WorkflowLogs: eventLog,
				Registry:     registry,
			}), metricsHandler)

			errs := make(chan error, 1)
			go func() {
				errs <- api.Start(command.Int("port"))
			}()

			select {
			case err := <-errs:
				if err != nil {
					logger.ErrorContext(ctx, "API server stopped", "error", err)
				}

				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := api.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			logger.InfoContext(ctx, "Flowgraph API stopped")

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
