package main

import (
	"context"
	"errors"
	"io"

	"github.com/dukex/flowgraph/pkg/cmd"
	"github.com/dukex/flowgraph/pkg/stream"
	"github.com/urfave/cli/v3"
)

func NewLogsCommand() *cli.Command {
	return &cli.Command{
		Name:      "logs",
		Aliases:   []string{"l"},
		Usage:     "Print the event log of an execution",
		ArgsUsage: "<execution-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis URL holding the execution event logs",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.BoolFlag{
				Name:    "follow",
				Aliases: []string{"f"},
				Usage:   "Keep printing new events until the execution finishes",
			},
			&cli.StringFlag{
				Name:  "since",
				Usage: "Only print events after this event id",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			executionID := command.Args().First()
			if executionID == "" {
				return errors.New("an execution id is required")
			}

			client := cmd.NewRedisClient(command.String("redis-url"))
			defer func() { _ = client.Close() }()

			return printLogs(ctx, stream.NewRedis(client), executionID, command.String("since"), command.Bool("follow"), command.Root().Writer)
		},
	}
}

// printLogs writes the events of an execution. With follow it subscribes and returns after
// the terminal event.
func printLogs(ctx context.Context, log stream.Stream, executionID, since string, follow bool, out io.Writer) error {
	if !follow {
		events, err := log.Range(ctx, executionID, since)
		if err != nil {
			return err
		}

		for _, event := range events {
			printEvent(out, event)
		}

		return nil
	}

	backlog, err := log.Range(ctx, executionID, "")
	if err != nil {
		return err
	}

	skip := map[string]struct{}{}

	if since != "" {
		after, err := log.Range(ctx, executionID, since)
		if err != nil {
			return err
		}

		for i := 0; i < len(backlog)-len(after); i++ {
			skip[backlog[i].ID] = struct{}{}
		}
	}

	events, err := log.Subscribe(ctx, executionID)
	if err != nil {
		return err
	}

	for event := range events {
		if _, ok := skip[event.ID]; ok {
			continue
		}

		printEvent(out, event)
	}

	return ctx.Err()
}
