package service

import "errors"

// Sentinel errors for the dispatcher and service.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrQuit         = errors.New("dispatcher quit")
	ErrInvalidEvent = errors.New("invalid event")
)
