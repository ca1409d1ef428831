package task

import (
	"errors"
	"fmt"
)

// Task errors.
var (
	// ErrStop ends a task successfully when returned by a stage. Remaining
	// stages are skipped.
	ErrStop = errors.New("task stopped early")

	// ErrAborted is returned by Run when the task was cancelled.
	ErrAborted = errors.New("task aborted")

	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("task already started")
)

// StageError wraps a stage failure with its position in the task.
type StageError struct {
	Stage string
	Index int
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}
