package sink

import "errors"

// Sentinel kinds for sink errors.
var (
	ErrQueueFull = errors.New("outbound queue full")
	ErrClosed    = errors.New("sink closed")
	ErrNoTarget  = errors.New("message has no target")
)
