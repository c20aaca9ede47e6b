package aggregation

import "errors"

var (
	// ErrUnknownProcessor is returned for a processor name that is not registered.
	ErrUnknownProcessor = errors.New("unknown processor")
	// ErrRunInProgress is returned when the processor is already running.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrCancelled is returned when a run stops because its token was cancelled.
	ErrCancelled = errors.New("run cancelled")
)
