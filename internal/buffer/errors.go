package buffer

import "errors"

// Buffer manager errors.
var (
	// ErrOperationInProgress is returned when an operation is started while
	// another one is still active. It indicates a caller bug.
	ErrOperationInProgress = errors.New("buffer operation already in progress")

	// ErrDestroyed is returned by operations on a destroyed manager.
	ErrDestroyed = errors.New("buffer manager destroyed")
)
