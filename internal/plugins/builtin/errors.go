package builtin

import "errors"

// Sentinel kinds for built-in plugin errors.
var (
	ErrUnknownPlugin = errors.New("unknown built-in plugin")
	ErrNoRegistry    = errors.New("registry is required")
)
