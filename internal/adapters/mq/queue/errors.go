package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrQueueFull      = errors.New("target queue full")
	ErrTooManyTargets = errors.New("too many active targets")
	ErrClosed         = errors.New("queue closed")
)
