package plugin

import "errors"

// Sentinel kinds for registry and invocation errors.
var (
	ErrDuplicateName     = errors.New("duplicate plugin name")
	ErrInvalidCapability = errors.New("invalid plugin capability")
	ErrNotFound          = errors.New("plugin not found")
	ErrPluginFailure     = errors.New("plugin failure")
	ErrTimeout           = errors.New("plugin timed out")
	ErrNoOutbox          = errors.New("invocation has no outbox")
)
