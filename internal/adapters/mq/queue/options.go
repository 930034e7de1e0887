package queue

import "time"

// Option applies a configuration option to the TargetQueues.
type Option func(*TargetQueues)

// WithDepth sets the maximum number of pending tasks per target.
func WithDepth(depth int) Option {
	return func(q *TargetQueues) {
		if depth > 0 {
			q.depth = depth
		}
	}
}

// WithMaxTargets sets the maximum number of live target queues.
func WithMaxTargets(n int) Option {
	return func(q *TargetQueues) {
		if n > 0 {
			q.maxTargets = n
		}
	}
}

// WithIdleTTL sets how long a drained target queue is kept before Sweep
// removes it. Zero removes drained queues as soon as they go idle.
func WithIdleTTL(ttl time.Duration) Option {
	return func(q *TargetQueues) {
		if ttl >= 0 {
			q.idleTTL = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(q *TargetQueues) {
		if now != nil {
			q.now = now
		}
	}
}
