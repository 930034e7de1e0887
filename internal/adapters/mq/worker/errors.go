package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrStopped   = errors.New("worker stopped")
	ErrTimeout   = errors.New("task timed out")
	ErrCanceled  = errors.New("task canceled")
	ErrPanic     = errors.New("task panicked")
	ErrQueueFull = errors.New("unordered queue full")
)
