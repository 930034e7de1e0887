package cache

import (
	"time"

	"github.com/okian/parley/internal/domain/model"
)

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithCapacity sets the maximum number of resident records.
// Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock sets the time source used for LastSeen on inserts.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithOnEvict registers a hook called, outside the cache lock, with every
// key evicted by capacity pressure. Explicit removals do not trigger it.
func WithOnEvict(fn func(model.Key)) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}
