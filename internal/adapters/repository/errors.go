package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("key not found")
	ErrInvalidLimit = errors.New("invalid ranking limit")
	ErrInvalidKey   = errors.New("invalid bucket or key")
	ErrNotNumber    = errors.New("value is not a counter")
)
