package engine

import (
	"errors"
)

var (
	// ErrNoWorkflow is returned when a run carries no workflow definition.
	ErrNoWorkflow = errors.New("workflow definition is required")
	// ErrCancelled is returned when the execution record was cancelled while the run was in
	// flight. It is only observed when the coordinator was built WithCancellationCheck.
	ErrCancelled = errors.New("execution cancelled")
)

// NodeError is the failure of a node without continueOnError. Its message is the executor's.
type NodeError struct {
	NodeID   string
	NodeType string
	Err      error
}

func (e *NodeError) Error() string {
	return e.Err.Error()
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// IsNodeError reports whether err was raised by a node executor.
func IsNodeError(err error) bool {
	var nodeErr *NodeError

	return errors.As(err, &nodeErr)
}
