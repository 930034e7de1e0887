package transport

import "errors"

// Sentinel kinds for transport errors.
var (
	ErrNotStarted   = errors.New("transport not started")
	ErrBadFrame     = errors.New("malformed event frame")
	ErrUnknownKind  = errors.New("unknown transport kind")
	ErrDisconnected = errors.New("transport disconnected")
)
