// Package schedule starts workflow executions on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgraph/pkg/dispatch"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/models"
	"github.com/robfig/cron/v3"
)

// UserID is recorded as the starter of scheduled executions.
const UserID = "scheduler"

// Entry runs one workflow on a standard five field cron expression.
type Entry struct {
	ID         string         `json:"id"         yaml:"id"`
	Cron       string         `json:"cron"       yaml:"cron"`
	WorkflowID string         `json:"workflowId" yaml:"workflowId"`
	Inputs     map[string]any `json:"inputs"     yaml:"inputs"`
	Disabled   bool           `json:"disabled"   yaml:"disabled"`
}

func (e Entry) Validate() error {
	if e.ID == "" {
		return errors.New("schedule id is required")
	}

	if e.WorkflowID == "" {
		return fmt.Errorf("schedule %s: workflow id is required", e.ID)
	}

	if _, err := cron.ParseStandard(e.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", e.ID, err)
	}

	return nil
}

// Starter starts executions. *dispatch.Service implements it.
type Starter interface {
	Start(ctx context.Context, req dispatch.StartRequest) (*dispatch.StartResult, error)
}

type Scheduler struct {
	starter Starter
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time
}

func New(starter Starter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = log.WithModule("schedule")
	}

	cronLogger := &cronLogger{logger: logger}

	return &Scheduler{
		starter: starter,
		logger:  logger,
		cron: cron.New(cron.WithLogger(cronLogger), cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		now: time.Now,
	}
}

// Add registers the enabled entries. It registers none when any entry is invalid.
func (s *Scheduler) Add(entries ...Entry) error {
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		if entry.Disabled {
			s.logger.Info("Skipping disabled schedule", "schedule_id", entry.ID)

			continue
		}

		if _, err := s.cron.AddFunc(entry.Cron, func() { s.Fire(context.Background(), entry) }); err != nil {
			return fmt.Errorf("failed to add schedule %s: %w", entry.ID, err)
		}

		s.logger.Info("Added schedule", "schedule_id", entry.ID, "cron", entry.Cron, "workflow_id", entry.WorkflowID)
	}

	return nil
}

// Fire queues one execution of the entry's workflow. The inputs gain a scheduledAt timestamp
// unless the entry sets one.
func (s *Scheduler) Fire(ctx context.Context, entry Entry) {
	inputs := make(map[string]any, len(entry.Inputs)+1)
	for key, value := range entry.Inputs {
		inputs[key] = value
	}

	if _, ok := inputs["scheduledAt"]; !ok {
		inputs["scheduledAt"] = s.now().UTC().Format(time.RFC3339)
	}

	started, err := s.starter.Start(ctx, dispatch.StartRequest{
		WorkflowID: entry.WorkflowID,
		Inputs:     inputs,
		Mode:       models.ExecutionModeAsync,
		UserID:     UserID,
	})
	if err != nil {
		s.logger.Error("Failed to start scheduled execution",
			"schedule_id", entry.ID, "workflow_id", entry.WorkflowID, "error", err)

		return
	}

	s.logger.Info("Started scheduled execution",
		"schedule_id", entry.ID, "workflow_id", entry.WorkflowID, "execution_id", started.ExecutionID)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing and waits for running fires until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
