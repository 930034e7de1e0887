package service

import (
	"time"

	"github.com/okian/parley/internal/adapters/sink"
	"github.com/okian/parley/internal/domain/admission"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
	"github.com/okian/parley/internal/schedule"
	"github.com/okian/parley/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNick sets the bot's own nick.
func WithNick(nick string) Option {
	return func(s *Service) {
		if nick != "" {
			s.nick = nick
		}
	}
}

// WithCommandPrefix sets the prefix that marks commands, e.g. "!".
func WithCommandPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithCasemapping sets how nicks and channel names are folded.
func WithCasemapping(cm model.Casemapping) Option {
	return func(s *Service) {
		s.casemapping = cm
	}
}

// WithAdmins sets the nick!user@host glob masks granted admin rights.
func WithAdmins(masks ...string) Option {
	return func(s *Service) {
		s.admins = append(s.admins, masks...)
	}
}

// WithCacheCapacity sets the maximum number of resident entity records.
func WithCacheCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cacheCapacity = n
		}
	}
}

// WithAdmission appends options for the admission controller.
func WithAdmission(opts ...admission.Option) Option {
	return func(s *Service) {
		s.admissionOpts = append(s.admissionOpts, opts...)
	}
}

// WithWorkerCount sets the number of ordered worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithUnordered sets the worker count and backlog of the unordered pool.
func WithUnordered(workers, capacity int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.unorderedWorkers = workers
		}
		if capacity > 0 {
			s.unorderedCap = capacity
		}
	}
}

// WithQueueDepth bounds each target queue.
func WithQueueDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.queueDepth = depth
		}
	}
}

// WithMaxTargets bounds the number of live target queues.
func WithMaxTargets(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTargets = n
		}
	}
}

// WithIdleTTL sets how long an empty target queue lingers.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithInvocationTimeout sets the default time budget of an invocation.
func WithInvocationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.invocationTimeout = d
		}
	}
}

// WithDefer bounds the deferred FIFO of each target and how long a
// deferred event may wait.
func WithDefer(depth int, ttl time.Duration) Option {
	return func(s *Service) {
		if depth >= 0 {
			s.deferDepth = depth
		}
		if ttl > 0 {
			s.deferTTL = ttl
		}
	}
}

// WithOverflow selects what happens when a target queue is full: OverflowDrop
// sheds the invocation, OverflowBlock waits up to wait first.
func WithOverflow(policy Overflow, wait time.Duration) Option {
	return func(s *Service) {
		s.overflow = policy
		if wait > 0 {
			s.overflowWait = wait
		}
	}
}

// WithDedupeSize sets how many recent event ids are remembered to filter
// redeliveries. Zero disables the filter.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithSink sets where replies are delivered.
func WithSink(out sink.Sink, opts ...sink.Option) Option {
	return func(s *Service) {
		s.sink = out
		s.sinkOpts = append(s.sinkOpts, opts...)
	}
}

// WithStore gives plugins persistent storage.
func WithStore(store plugin.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithSchedule merges the scheduler's ticks into the event stream.
func WithSchedule(sched *schedule.Scheduler) Option {
	return func(s *Service) {
		s.schedule = sched
	}
}

// WithErrorHandler sets the reaction to unexpected dispatcher errors.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *Service) {
		if h != nil {
			s.onError = h
		}
	}
}

// WithMaintenanceInterval sets how often idle queues are swept, deferred
// events are flushed and gauges are refreshed.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maintenance = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
