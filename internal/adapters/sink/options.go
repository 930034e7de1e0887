package sink

import (
	"time"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
)

// Option applies a configuration option to the Adapter.
type Option func(*Adapter)

// WithQueueDepth bounds the number of pending lines per target.
func WithQueueDepth(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.depth = n
		}
	}
}

// WithMaxLine sets the longest line, in bytes, handed to the sink.
func WithMaxLine(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxLine = n
		}
	}
}

// WithBurst sets how many lines may leave back to back before pacing kicks in.
func WithBurst(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.burst = n
		}
	}
}

// WithIdleTimeout sets how long a target's sender waits for more lines
// before exiting.
func WithIdleTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.idle = d
		}
	}
}

// WithPacer makes the send rate follow p and reports send latency to it.
func WithPacer(p Pacer) Option {
	return func(a *Adapter) {
		a.pacer = p
	}
}

// WithCasemapping sets how targets are folded into queue keys.
func WithCasemapping(cm model.Casemapping) Option {
	return func(a *Adapter) {
		a.cm = cm
	}
}

// WithLogger sets a custom logger for the adapter.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}
