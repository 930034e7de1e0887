// Package repository persists plugin state.
//
// BoltStore keeps small key/value records in a bbolt file, one bucket per
// plugin namespace. Ranking is an in-memory ordered index over integer
// scores used for leaderboards.
package repository

import (
	"os"
	"time"

	"github.com/okian/parley/pkg/logger"
)

// Option applies a configuration option to the BoltStore.
type Option func(*BoltStore)

// WithOpenTimeout bounds how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(s *BoltStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithFileMode sets the permissions of a newly created database file.
func WithFileMode(mode os.FileMode) Option {
	return func(s *BoltStore) {
		if mode != 0 {
			s.mode = mode
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *BoltStore) {
		if l != nil {
			s.logger = l
		}
	}
}
