package script

import "errors"

// Sentinel kinds for script plugin errors.
var (
	ErrCompile     = errors.New("script does not compile")
	ErrNoTrigger   = errors.New("script declares no trigger")
	ErrInterrupted = errors.New("script interrupted")
	ErrThrown      = errors.New("script threw")
)
