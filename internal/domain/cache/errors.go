package cache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrMutationPanicked = errors.New("cache mutation panicked")
)
