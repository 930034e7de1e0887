package transport

import (
	"time"

	"github.com/okian/parley/pkg/logger"
)

// Option applies a configuration option to a transport.
type Option func(*base)

// WithBuffer sets the capacity of the inbound event channel.
func WithBuffer(n int) Option {
	return func(b *base) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithInTimeout bounds how long an inbound frame waits for room in the
// event channel before it is dropped. Zero waits indefinitely.
func WithInTimeout(d time.Duration) Option {
	return func(b *base) {
		b.inTimeout = d
	}
}

// WithLogger sets a custom logger for the transport.
func WithLogger(l logger.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}
