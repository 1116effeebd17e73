package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowgraph/pkg/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueuePrefix namespaces the queue keys.
const DefaultQueuePrefix = "flowgraph:"

// Queue is a reliable job list on Redis. Dequeue atomically moves a job into a processing
// list, and the job leaves it only when acknowledged, so a worker crash never loses a job.
type Queue struct {
	client     redis.UniversalClient
	jobs       string
	processing string
}

// Delivery is a dequeued job awaiting acknowledgement.
type Delivery struct {
	Job *models.Job
	raw string
}

// NewQueue returns a queue whose keys start with prefix. An empty prefix uses
// DefaultQueuePrefix.
func NewQueue(client redis.UniversalClient, prefix string) *Queue {
	if prefix == "" {
		prefix = DefaultQueuePrefix
	}

	return &Queue{
		client:     client,
		jobs:       prefix + "jobs",
		processing: prefix + "processing",
	}
}

func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ExecutionID, err)
	}

	if err := q.client.LPush(ctx, q.jobs, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ExecutionID, err)
	}

	return nil
}

// Dequeue waits up to timeout for a job. It returns nil without error when none arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.jobs, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()

		return nil, fmt.Errorf("dropped undecodable job: %w", err)
	}

	return &Delivery{Job: &job, raw: raw}, nil
}

// Ack removes a finished job from the processing list.
func (q *Queue) Ack(ctx context.Context, delivery *Delivery) error {
	if err := q.client.LRem(ctx, q.processing, 1, delivery.raw).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge job %s: %w", delivery.Job.ExecutionID, err)
	}

	return nil
}

// RecoverStale moves every job left in the processing list back to the job list. It is meant
// to run once before workers start.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	recovered := 0

	for {
		err := q.client.LMove(ctx, q.processing, q.jobs, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}

		if err != nil {
			return recovered, fmt.Errorf("failed to recover stale jobs: %w", err)
		}

		recovered++
	}
}

// Len returns the number of jobs waiting and in processing.
func (q *Queue) Len(ctx context.Context) (waiting, processing int64, err error) {
	waiting, err = q.client.LLen(ctx, q.jobs).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read queue length: %w", err)
	}

	processing, err = q.client.LLen(ctx, q.processing).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read queue length: %w", err)
	}

	return waiting, processing, nil
}
