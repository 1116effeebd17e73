package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgraph/pkg/engine"
	"github.com/dukex/flowgraph/pkg/events"
	"github.com/dukex/flowgraph/pkg/log"
	"github.com/dukex/flowgraph/pkg/metrics"
	"github.com/dukex/flowgraph/pkg/persistence"
)

// Default pool configuration values.
const (
	DefaultWorkers        = 5
	DefaultAttempts       = 3
	DefaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = time.Minute
	defaultPollTimeout    = 2 * time.Second
)

// PoolConfig configures a worker Pool. Zero values fall back to the defaults.
type PoolConfig struct {
	Workers        int
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// PollTimeout bounds each blocking dequeue so workers notice shutdown.
	PollTimeout time.Duration

	WorkerID string
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Pool runs queued jobs on a fixed number of workers. Each job is retried as a whole, up to
// Attempts times with exponential backoff, and acknowledged once it finished.
type Pool struct {
	queue   *Queue
	service *Service
	cfg     PoolConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool returns a pool consuming queue and running jobs through service.
func NewPool(queue *Queue, service *Service, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}

	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.WithModule("worker")
	}

	if cfg.WorkerID != "" {
		logger = logger.With("worker_id", cfg.WorkerID)
	}

	return &Pool{
		queue:   queue,
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start requeues jobs abandoned by a previous run and launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	recovered, err := p.queue.RecoverStale(ctx)
	if err != nil {
		return err
	}

	if recovered > 0 {
		p.logger.WarnContext(ctx, "requeued stale jobs", "count", recovered)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.InfoContext(ctx, "starting worker pool",
		"workers", p.cfg.Workers,
		"attempts", p.cfg.Attempts,
		"initial_backoff", p.cfg.InitialBackoff,
	)

	for i := range p.cfg.Workers {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()
			p.loop(ctx, i)
		}()
	}

	return nil
}

// Stop cancels the workers and waits for them. A job interrupted by Stop stays in the
// processing list and is requeued by the next Start.
func (p *Pool) Stop() {
	p.logger.Info("stopping worker pool...")

	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)

	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := p.queue.Dequeue(ctx, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.ErrorContext(ctx, "failed to dequeue job", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollTimeout):
			}

			continue
		}

		if delivery == nil {
			continue
		}

		p.process(ctx, logger, delivery)
	}
}

// process runs a delivery to its final outcome and acknowledges it, unless the pool is
// shutting down mid-job.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, delivery *Delivery) {
	release := p.cfg.Metrics.JobStarted()
	defer release()

	job := delivery.Job
	logger = logger.With("execution_id", job.ExecutionID, "workflow_id", job.WorkflowID)
	started := time.Now()
	attempts := 0

	operation := func() (map[string]any, error) {
		attempts++

		if _, err := p.service.executions.IncrementAttempts(ctx, job.ExecutionID); err != nil {
			if persistence.IsExecutionNotFound(err) {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		logger.InfoContext(ctx, "running job", "attempt", attempts)

		outputs, err := p.service.runAttempt(ctx, job)
		if err != nil && permanent(err) {
			return nil, backoff.Permanent(err)
		}

		return outputs, err
	}

	notify := func(err error, delay time.Duration) {
		p.cfg.Metrics.JobRetried()
		logger.WarnContext(ctx, "job attempt failed, retrying", "attempt", attempts, "delay", delay, "error", err)
		p.service.publish(ctx, job.ExecutionID, events.ExecutionRetried{
			BaseEvent: events.NewBaseEvent(events.ExecutionRetriedEvent, job.WorkflowID, job.ExecutionID),
			Attempt:   attempts,
			Error:     err.Error(),
			Delay:     delay,
		})
	}

	outputs, err := backoff.RetryNotifyWithData(operation, p.policy(ctx), notify)

	if ctx.Err() != nil {
		logger.WarnContext(ctx, "job interrupted by shutdown, leaving it for recovery")

		return
	}

	if err != nil {
		p.service.settleFailure(ctx, job, err)
	}

	p.service.finish(ctx, job, outputs, err, attempts, time.Since(started))

	if err != nil {
		logger.ErrorContext(ctx, "job failed", "attempts", attempts, "error", err)
	} else {
		logger.InfoContext(ctx, "job completed", "attempts", attempts)
	}

	if err := p.queue.Ack(ctx, delivery); err != nil {
		logger.ErrorContext(ctx, "failed to acknowledge job", "error", err)
	}
}

func (p *Pool) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.cfg.InitialBackoff),
		backoff.WithMaxInterval(p.cfg.MaxBackoff),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxElapsedTime(0),
	)

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.Attempts-1)), ctx)
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, engine.ErrCancelled) ||
		errors.Is(err, engine.ErrNoWorkflow) ||
		persistence.IsWorkflowNotFound(err) ||
		persistence.IsExecutionNotFound(err)
}
