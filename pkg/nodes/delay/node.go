// Package delay provides the executor that pauses a run for a configured duration.
package delay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dukex/flowgraph/pkg/nodes"
	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/dukex/flowgraph/pkg/template"
)

const (
	// MaxDelay caps every requested delay.
	MaxDelay = 5 * time.Minute

	defaultDelay = 1000
)

// Executor waits and passes its inputs through.
type Executor struct {
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a delay executor.
func New() *Executor {
	return &Executor{sleep: sleep}
}

// Execute waits for the configured delay, capped at MaxDelay. The wait ends early with the
// context error when ctx is done.
func (e *Executor) Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	amount := math.Trunc(nodes.Number(config, "delay", defaultDelay))
	if amount == 0 {
		amount = defaultDelay
	}

	unit := nodes.String(config, "unit", "milliseconds")
	unitLength := unitDuration(unit)

	// Compare before multiplying so huge amounts cannot overflow the duration.
	var requested time.Duration

	switch {
	case amount < 0:
		requested = 0
	case amount > float64(MaxDelay/unitLength):
		requestedMs := amount * float64(unitLength.Milliseconds())
		_ = nodeCtx.Log(ctx, "warn", fmt.Sprintf("Delay capped at 5 minutes (requested: %.0fms)", requestedMs), nil)
		requested = MaxDelay
	default:
		requested = time.Duration(amount) * unitLength
	}

	var variables map[string]any
	if nodeCtx != nil {
		variables = nodeCtx.Variables
	}

	message := template.Interpolate(nodes.String(config, "message", "Waiting..."), template.Scope(inputs, variables))
	_ = nodeCtx.Log(ctx, "info", fmt.Sprintf("%s (%dms)", message, requested.Milliseconds()), nil)

	start := time.Now()

	if err := e.sleep(ctx, requested); err != nil {
		return nil, err
	}

	end := time.Now()
	actual := end.Sub(start).Milliseconds()

	_ = nodeCtx.Log(ctx, "info", fmt.Sprintf("Delay completed after %dms", actual), nil)

	return nodes.Merge(inputs, map[string]any{
		"delay": map[string]any{
			"requested": requested.Milliseconds(),
			"actual":    actual,
			"unit":      unit,
			"startTime": nodes.Timestamp(start),
			"endTime":   nodes.Timestamp(end),
			"message":   message,
		},
	}), nil
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "s", "seconds":
		return time.Second
	case "min", "minutes":
		return time.Minute
	case "h", "hours":
		return time.Hour
	default:
		return time.Millisecond
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
