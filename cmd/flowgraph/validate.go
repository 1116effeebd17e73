package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dukex/flowgraph/pkg/cmd"
	"github.com/dukex/flowgraph/pkg/graph"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/dukex/flowgraph/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
)

var errInvalidWorkflow = errors.New("workflow is invalid")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a workflow definition file (JSON or YAML)",
		ArgsUsage: "<workflow-file>",
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("a workflow file is required")
			}

			workflow, err := readWorkflow(path)
			if err != nil {
				return err
			}

			logger := slog.With("module", "flowgraph", "action", "validate")
			reg := cmd.NewRegistry(logger, nil, nil, 0)

			return validateWorkflow(workflow, reg, command.Root().Writer)
		},
	}
}

// validateWorkflow reports structural problems, unknown node types, invalid node configs and
// cycles. Only the first three make the workflow invalid.
func validateWorkflow(workflow *models.Workflow, reg *registry.Registry, out io.Writer) error {
	problems := 0

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(workflow); err != nil {
		fmt.Fprintf(out, "structure: %v\n", err)
		problems++
	}

	for _, node := range workflow.Nodes {
		if node == nil {
			continue
		}

		if !reg.Has(node.Type) {
			fmt.Fprintf(out, "node %s: unknown type %q\n", node.ID, node.Type)
			problems++

			continue
		}

		if err := reg.ValidateConfig(node.Type, node.Config); err != nil {
			fmt.Fprintf(out, "node %s: %v\n", node.ID, err)
			problems++
		}
	}

	if cycle := graph.DetectCycle(workflow.Nodes, workflow.Connections); len(cycle) > 0 {
		fmt.Fprintf(out, "warning: cycle through %v\n", cycle)
	}

	if problems > 0 {
		return fmt.Errorf("%w: %d problem(s)", errInvalidWorkflow, problems)
	}

	fmt.Fprintf(out, "workflow %s is valid (%d nodes)\n", workflow.ID, len(workflow.Nodes))

	return nil
}
