package stream

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/flowgraph/pkg/models"
)

// Memory is an in-process Stream for single binary runs and tests.
type Memory struct {
	mu          sync.Mutex
	logs        map[string][]*models.LogEvent
	subscribers map[string][]chan struct{}
	workflows   map[string][]map[string]any
	seq         int64
}

// NewMemory returns an empty in-memory stream.
func NewMemory() *Memory {
	return &Memory{
		logs:        make(map[string][]*models.LogEvent),
		subscribers: make(map[string][]chan struct{}),
		workflows:   make(map[string][]map[string]any),
	}
}

func (m *Memory) Append(_ context.Context, executionID string, event *models.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.seq++
	event.ID = strconv.FormatInt(m.seq, 10)
	m.logs[executionID] = append(m.logs[executionID], event)

	// Subscribers re-read the log on wake up, so one pending signal is enough.
	for _, sub := range m.subscribers[executionID] {
		select {
		case sub <- struct{}{}:
		default:
		}
	}

	return nil
}

func (m *Memory) Range(_ context.Context, executionID string, since string) ([]*models.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.after(executionID, since), nil
}

// Subscribe reads the log from the start and then after every append, so a slow reader
// never loses events.
func (m *Memory) Subscribe(ctx context.Context, executionID string) (<-chan *models.LogEvent, error) {
	wake := make(chan struct{}, 1)

	m.mu.Lock()
	m.subscribers[executionID] = append(m.subscribers[executionID], wake)
	m.mu.Unlock()

	out := make(chan *models.LogEvent, subscriberBuffer)

	go func() {
		defer close(out)
		defer m.unsubscribe(executionID, wake)

		last := ""

		for {
			m.mu.Lock()
			pending := m.after(executionID, last)
			m.mu.Unlock()

			for _, event := range pending {
				if !send(ctx, out, event) || event.Type.IsTerminal() {
					return
				}

				last = event.ID
			}

			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
		}
	}()

	return out, nil
}

// AppendWorkflowLog records a logger node entry for the workflow.
func (m *Memory) AppendWorkflowLog(_ context.Context, workflowID string, entry map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workflows[workflowID] = append(m.workflows[workflowID], entry)

	return nil
}

// WorkflowLogs returns the most recent logger entries of a workflow, newest first.
func (m *Memory) WorkflowLogs(_ context.Context, workflowID string, limit int64) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.workflows[workflowID]
	out := make([]map[string]any, 0, len(entries))

	for i := len(entries) - 1; i >= 0 && (limit <= 0 || int64(len(out)) < limit); i-- {
		out = append(out, entries[i])
	}

	return out, nil
}

func (m *Memory) after(executionID, since string) []*models.LogEvent {
	events := m.logs[executionID]

	if since != "" {
		for i, event := range events {
			if event.ID == since {
				events = events[i+1:]

				break
			}
		}
	}

	out := make([]*models.LogEvent, len(events))
	copy(out, events)

	return out
}

func (m *Memory) unsubscribe(executionID string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subscribers[executionID]
	for i, sub := range subs {
		if sub == ch {
			m.subscribers[executionID] = append(subs[:i], subs[i+1:]...)

			break
		}
	}
}
