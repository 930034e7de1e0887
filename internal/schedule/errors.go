package schedule

import "errors"

// ErrInvalidEntry is returned for entries that cannot be scheduled.
var ErrInvalidEntry = errors.New("invalid schedule entry")
