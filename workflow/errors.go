package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrThreadBusy is returned when another mutation on the same thread won
	// the checkpoint compare-and-swap first.
	ErrThreadBusy = errors.New("workflow: thread has a concurrent mutation in flight")

	// ErrNoPausedWorkflow is returned by Feedback when the thread does not
	// exist or is not paused for human review.
	ErrNoPausedWorkflow = errors.New("workflow: no workflow awaiting review for thread")
)

// ValidationError rejects a malformed request before any state is created
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CheckpointError wraps a persistence failure. It is fatal: the controller
// stops rather than continue past an unpersisted transition.
type CheckpointError struct {
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s failed: %v", e.Op, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}
