// Package main provides the flowgraph worker, which runs queued executions.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/flowgraph/pkg/cmd"
	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "flowgraph-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to run queued workflow executions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Usage:   "Number of concurrent workers",
				Value:   dispatch.DefaultWorkers,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "attempts",
				Usage:   "Attempts per job before it is recorded as failed",
				Value:   dispatch.DefaultAttempts,
				Sources: cli.EnvVars("JOB_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "backoff",
				Usage:   "Delay before the first retry; later retries double it",
				Value:   dispatch.DefaultInitialBackoff,
				Sources: cli.EnvVars("JOB_BACKOFF"),
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
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving Prometheus metrics (0 disables it)",
				Value:   9092,
				Sources: cli.EnvVars("METRICS_PORT"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowgraph-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Flowgraph Worker")

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

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger, "flowgraph-worker", command.StringSlice("kafka-brokers"))
			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()
			}

			metrics, metricsHandler := cmd.NewMetrics()
			tracer := cmd.NewTracer(ctx, logger, command.Bool("tracing"), "flowgraph-worker")

			executions := redisstore.NewExecutions(client)
			eventLog := stream.NewRedis(client)
			registry := cmd.NewRegistry(logger, client, eventLog, command.Duration("script-timeout"))
			queue := dispatch.NewQueue(client, command.String("queue-prefix"))

			coordinator := engine.New(registry, eventLog, executions,
				engine.WithLogger(logger),
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
				Logger:      logger,
			})

			pool := dispatch.NewPool(queue, service, dispatch.PoolConfig{
				Workers:        command.Int("workers"),
				Attempts:       command.Int("attempts"),
				InitialBackoff: command.Duration("backoff"),
				WorkerID:       workerID,
				Metrics:        metrics,
				Logger:         logger,
			})

			if err := pool.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker pool", "error", err)

				return err
			}

			if port := command.Int("metrics-port"); port > 0 {
				app := fiber.New()
				app.Get("/metrics", metricsHandler)

				go func() {
					if err := app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
						logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
					}
				}()

				defer func() { _ = app.Shutdown() }()
			}

			<-ctx.Done()

			logger.InfoContext(ctx, "Shutting down worker pool")
			pool.Stop()

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
