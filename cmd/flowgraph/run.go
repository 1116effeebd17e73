package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dukex/flowgraph/pkg/cmd"
	"github.com/dukex/flowgraph/pkg/config"
	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/persistence"
	"github.com/dukex/flowgraph/pkg/persistence/memory"
	"github.com/dukex/flowgraph/pkg/persistence/redisstore"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// runOptions selects the workflow and the stores of a local run. Without a Redis URL the run
// keeps its record and event log in memory.
type runOptions struct {
	File          string
	WorkflowID    string
	DatabaseURL   string
	RedisURL      string
	Inputs        map[string]any
	Follow        bool
	ScriptTimeout time.Duration
}

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute a workflow synchronously and print its outputs",
		ArgsUsage: "[workflow-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Workflow definition file (JSON or YAML)",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Workflow store URL used when a workflow id is given",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the execution record and event log (in memory when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "inputs",
				Aliases: []string{"i"},
				Usage:   "Workflow inputs as a JSON object",
				Value:   "{}",
			},
			&cli.BoolFlag{
				Name:  "follow",
				Usage: "Print execution events while the workflow runs",
			},
			&cli.DurationFlag{
				Name:  "script-timeout",
				Usage: "Wall-clock limit of transform and condition expressions",
				Value: 5 * time.Second,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.Root().String("log-level"), "text")

			opts := runOptions{
				File:          command.String("file"),
				WorkflowID:    command.Args().First(),
				DatabaseURL:   command.String("database-url"),
				RedisURL:      command.String("redis-url"),
				Follow:        command.Bool("follow"),
				ScriptTimeout: command.Duration("script-timeout"),
			}

			if err := json.Unmarshal([]byte(command.String("inputs")), &opts.Inputs); err != nil {
				return fmt.Errorf("invalid inputs: %w", err)
			}

			return runWorkflow(ctx, log.WithModule("flowgraph"), opts, command.Root().Writer)
		},
	}
}

func runWorkflow(ctx context.Context, logger *slog.Logger, opts runOptions, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}

	if opts.File == "" && opts.WorkflowID == "" {
		return errors.New("a workflow id or --file is required")
	}

	var (
		client     redis.UniversalClient
		executions persistence.ExecutionStore
		eventLog   interface {
			stream.Stream
			AppendWorkflowLog(ctx context.Context, workflowID string, entry map[string]any) error
		}
	)

	local := memory.New()

	if opts.RedisURL != "" {
		client = cmd.NewRedisClient(opts.RedisURL)
		defer func() { _ = client.Close() }()

		executions = redisstore.NewExecutions(client)
		eventLog = stream.NewRedis(client)
	} else {
		executions = local
		eventLog = stream.NewMemory()
	}

	var workflows persistence.WorkflowStore = local

	workflowID := opts.WorkflowID

	if opts.File != "" {
		workflow, err := readWorkflow(opts.File)
		if err != nil {
			return err
		}

		if err := local.SaveWorkflow(ctx, workflow); err != nil {
			return err
		}

		workflowID = workflow.ID
	} else {
		if opts.DatabaseURL == "" {
			opts.DatabaseURL = opts.RedisURL
		}

		if opts.DatabaseURL == "" {
			return errors.New("--database-url is required to run a stored workflow")
		}

		workflows = cmd.NewPersistence(ctx, logger, opts.DatabaseURL, client)
		defer func() { _ = workflows.Close(context.WithoutCancel(ctx)) }()
	}

	registry := cmd.NewRegistry(logger, client, eventLog, opts.ScriptTimeout)

	var coordinatorLog engine.EventLog = eventLog
	if opts.Follow {
		coordinatorLog = &followLog{EventLog: eventLog, out: out}
	}

	service := dispatch.NewService(dispatch.Config{
		Coordinator: engine.New(registry, coordinatorLog, executions, engine.WithLogger(logger)),
		Workflows:   workflows,
		Executions:  executions,
		Events:      eventLog,
		Logger:      logger,
	})

	result, err := service.Start(ctx, dispatch.StartRequest{
		WorkflowID: workflowID,
		Inputs:     opts.Inputs,
		Mode:       models.ExecutionModeSync,
		UserID:     "cli",
	})
	if err != nil {
		if result != nil {
			fmt.Fprintf(out, "execution %s %s\n", result.ExecutionID, result.Status)
		}

		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(result)
}

func readWorkflow(path string) (*models.Workflow, error) {
	workflow, err := config.LoadWorkflow(path)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}

	return workflow, nil
}

// followLog prints each event after it was appended.
type followLog struct {
	engine.EventLog

	out io.Writer
}

func (f *followLog) Append(ctx context.Context, executionID string, event *models.LogEvent) error {
	if err := f.EventLog.Append(ctx, executionID, event); err != nil {
		return err
	}

	printEvent(f.out, event)

	return nil
}

func printEvent(out io.Writer, event *models.LogEvent) {
	node := ""
	if event.NodeName != "" {
		node = " [" + event.NodeName + "]"
	}

	fmt.Fprintf(out, "%s %-18s%s %s\n", event.Timestamp.Format(time.TimeOnly), event.Type, node, event.Message)

	if event.Error != "" {
		fmt.Fprintf(out, "    error: %s\n", event.Error)
	}
}
