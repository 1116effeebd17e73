package dispatch

import "errors"

var (
	// ErrNotSynchronous is returned by AwaitResult for executions started in async mode.
	ErrNotSynchronous = errors.New("execution was not started synchronously")

	// ErrNoQueue is returned when an async start is requested from a service without a queue.
	ErrNoQueue = errors.New("asynchronous dispatch is not configured")

	// ErrInvalidMode is returned for a start request with an unknown mode.
	ErrInvalidMode = errors.New("invalid execution mode")
)
