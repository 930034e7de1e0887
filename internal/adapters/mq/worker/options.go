package worker

import (
	"time"

	"github.com/okian/parley/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithWorkers sets the number of ordered workers.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

// WithUnordered sets the number of unordered workers and the capacity of
// their queue.
func WithUnordered(workers, capacity int) Option {
	return func(p *Pool) {
		if workers > 0 {
			p.unorderedCount = workers
		}
		if capacity > 0 {
			p.unorderedCap = capacity
		}
	}
}

// WithDefaultTimeout sets the time budget for tasks that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.defaultTimeout = d
		}
	}
}

// WithResultHook registers a function called after every task, from the
// worker goroutine that ran it.
func WithResultHook(fn func(Result)) Option {
	return func(p *Pool) {
		p.onResult = fn
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}
