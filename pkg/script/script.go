// Package script evaluates user supplied JSONata expressions inside a restricted host.
//
// Expressions only see the data and bindings handed to Eval plus the extension functions
// registered here. JSONata itself has no file system or network primitives.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonata "github.com/blues/jsonata-go"
)

// DefaultTimeout bounds an evaluation when the caller does not configure one.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when an evaluation exceeds its wall clock budget.
	ErrTimeout = errors.New("script execution timed out")
	// ErrUndefined is returned when an expression produces no value.
	ErrUndefined = errors.New("script produced no result")
)

// Host compiles and runs expressions with the registered helper functions.
type Host struct {
	timeout time.Duration
	exts    map[string]jsonata.Extension
}

// NewHost returns a host with the given default timeout. A zero timeout uses DefaultTimeout.
func NewHost(timeout time.Duration) *Host {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Host{
		timeout: timeout,
		exts: map[string]jsonata.Extension{
			"get":        {Func: get},
			"set":        {Func: set},
			"formatDate": {Func: formatDate},
		},
	}
}

// Eval evaluates expr with data as the context value and bindings exposed as $name
// variables. The evaluation is abandoned when timeout (or the host default) elapses or ctx
// is done.
func (h *Host) Eval(ctx context.Context, expr string, data any, bindings map[string]any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = h.timeout
	}

	compiled, err := jsonata.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}

	if err := compiled.RegisterExts(h.exts); err != nil {
		return nil, fmt.Errorf("failed to register extensions: %w", err)
	}

	normalized, err := normalize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare data: %w", err)
	}

	vars := make(map[string]any, len(bindings))

	for name, value := range bindings {
		v, err := normalize(value)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare binding %q: %w", name, err)
		}

		vars[name] = v
	}

	if err := compiled.RegisterVars(vars); err != nil {
		return nil, fmt.Errorf("failed to register bindings: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)

	// The evaluator cannot be interrupted; on timeout the goroutine finishes on its own and
	// its result is dropped.
	go func() {
		value, err := compiled.Eval(normalized)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}

		return nil, ctx.Err()
	case out := <-done:
		if errors.Is(out.err, jsonata.ErrUndefined) {
			return nil, ErrUndefined
		}

		if out.err != nil {
			return nil, out.err
		}

		return out.value, nil
	}
}

// normalize converts arbitrary Go values into the plain JSON shapes the evaluator works on.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}
