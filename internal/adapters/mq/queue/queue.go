// Package queue holds pending plugin invocations in one bounded FIFO per
// target.
//
// A target is handed to at most one consumer at a time: Next hands out the
// head task of a ready target and the target stays busy until Done is
// called for it. This serializes work per target while different targets
// proceed in parallel.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/parley/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultDepth      = 64
	defaultMaxTargets = 1024
	defaultIdleTTL    = time.Minute
)

// Task is one pending invocation.
type Task struct {
	ID       string
	Target   string // ordering key, already folded
	Name     string // plugin name
	Timeout  time.Duration
	Enqueued time.Time
	Run      func(ctx context.Context) error
}

type target struct {
	tasks      []Task
	busy       bool // a task of this target is running
	scheduled  bool // the key is sitting in the ready channel
	lastActive time.Time
}

// TargetQueues is a set of per-target FIFOs feeding a shared ready channel.
type TargetQueues struct {
	mu      sync.Mutex
	targets map[string]*target
	ready   chan string
	space   chan struct{} // closed and replaced whenever a slot frees up
	pending int
	closed  bool
	closeCh chan struct{}

	depth      int
	maxTargets int
	idleTTL    time.Duration
	now        func() time.Time
}

// New creates an empty set of target queues.
func New(opts ...Option) *TargetQueues {
	q := &TargetQueues{
		targets:    make(map[string]*target),
		space:      make(chan struct{}),
		closeCh:    make(chan struct{}),
		depth:      defaultDepth,
		maxTargets: defaultMaxTargets,
		idleTTL:    defaultIdleTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	// Each target key sits in the channel at most once, so this never blocks.
	q.ready = make(chan string, q.maxTargets)
	return q
}

// Enqueue appends t to its target's queue without blocking.
func (q *TargetQueues) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	tq, ok := q.targets[t.Target]
	if !ok {
		if len(q.targets) >= q.maxTargets {
			q.sweepLocked(q.now(), true)
		}
		if len(q.targets) >= q.maxTargets {
			return ErrTooManyTargets
		}
		tq = &target{}
		q.targets[t.Target] = tq
	}
	if len(tq.tasks) >= q.depth {
		return ErrQueueFull
	}
	if t.Enqueued.IsZero() {
		t.Enqueued = q.now()
	}
	tq.tasks = append(tq.tasks, t)
	tq.lastActive = q.now()
	q.pending++
	if !tq.busy && !tq.scheduled {
		tq.scheduled = true
		q.ready <- t.Target
	}
	metrics.UpdateQueueDepth(q.pending, len(q.targets))
	return nil
}

// EnqueueWait retries Enqueue while the target queue is full, for at most
// wait or until ctx is done. It returns the last enqueue error on expiry.
func (q *TargetQueues) EnqueueWait(ctx context.Context, t Task, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		q.mu.Lock()
		space := q.space
		q.mu.Unlock()

		err := q.Enqueue(t)
		if err == nil || !(errors.Is(err, ErrQueueFull) || errors.Is(err, ErrTooManyTargets)) {
			return err
		}
		select {
		case <-space:
		case <-timer.C:
			return err
		case <-ctx.Done():
			return err
		case <-q.closeCh:
			return ErrClosed
		}
	}
}

// Next blocks until a target has work and no task in flight, then returns
// that target's head task. The caller must call Done with the task's target
// once it is finished with it.
func (q *TargetQueues) Next(ctx context.Context) (Task, error) {
	for {
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-q.closeCh:
			return Task{}, ErrClosed
		case key := <-q.ready:
			q.mu.Lock()
			tq, ok := q.targets[key]
			if !ok || len(tq.tasks) == 0 {
				if ok {
					tq.scheduled = false
				}
				q.mu.Unlock()
				continue
			}
			t := tq.tasks[0]
			tq.tasks[0] = Task{}
			tq.tasks = tq.tasks[1:]
			tq.scheduled = false
			tq.busy = true
			q.pending--
			q.signalSpace()
			metrics.UpdateQueueDepth(q.pending, len(q.targets))
			q.mu.Unlock()
			return t, nil
		}
	}
}

// Done releases key so its next task can be handed out.
func (q *TargetQueues) Done(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tq, ok := q.targets[key]
	if !ok {
		return
	}
	tq.busy = false
	tq.lastActive = q.now()
	switch {
	case len(tq.tasks) > 0:
		if !q.closed {
			tq.scheduled = true
			q.ready <- key
		}
	case q.idleTTL == 0:
		delete(q.targets, key)
		q.signalSpace()
	}
	metrics.UpdateQueueDepth(q.pending, len(q.targets))
}

// Sweep removes target queues idle for longer than the idle TTL and
// returns how many were removed.
func (q *TargetQueues) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.sweepLocked(q.now(), false)
	metrics.UpdateQueueDepth(q.pending, len(q.targets))
	return n
}

func (q *TargetQueues) sweepLocked(now time.Time, force bool) int {
	removed := 0
	for key, tq := range q.targets {
		if tq.busy || tq.scheduled || len(tq.tasks) > 0 {
			continue
		}
		if force || now.Sub(tq.lastActive) >= q.idleTTL {
			delete(q.targets, key)
			removed++
		}
	}
	if removed > 0 {
		q.signalSpace()
	}
	return removed
}

// signalSpace wakes EnqueueWait callers. Callers hold q.mu.
func (q *TargetQueues) signalSpace() {
	close(q.space)
	q.space = make(chan struct{})
}

// Len returns the number of queued tasks across all targets, excluding
// tasks in flight.
func (q *TargetQueues) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Depth returns the number of queued tasks for key.
func (q *TargetQueues) Depth(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if tq, ok := q.targets[key]; ok {
		return len(tq.tasks)
	}
	return 0
}

// Targets returns the number of live target queues.
func (q *TargetQueues) Targets() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.targets)
}

// Close stops handing out tasks. Pending tasks are discarded.
func (q *TargetQueues) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.closeCh)
	return nil
}

// IsClosed returns true if the queues have been closed.
func (q *TargetQueues) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
