package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrUnknownKind = errors.New("unknown event kind")
)
