package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/parley/internal/adapters/mq/queue"
	"github.com/okian/parley/internal/adapters/mq/worker"
	"github.com/okian/parley/internal/domain/admission"
	"github.com/okian/parley/internal/domain/cache"
	"github.com/okian/parley/internal/domain/dedupe"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

// Overflow selects how a full target queue is resolved.
type Overflow uint8

// Overflow policies.
const (
	OverflowDrop Overflow = iota
	OverflowBlock
)

func (o Overflow) String() string {
	if o == OverflowBlock {
		return "block"
	}
	return "drop"
}

// ParseOverflow maps "drop" or "block" to an Overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return OverflowDrop, nil
	case "block":
		return OverflowBlock, nil
	default:
		return OverflowDrop, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Reaction tells the dispatcher whether to carry on after an error.
type Reaction uint8

// Reactions to dispatcher errors.
const (
	Proceed Reaction = iota
	Quit
)

// ErrorHandler decides how the dispatcher reacts to an unexpected error.
// Plugin failures never reach it; they are contained per invocation.
type ErrorHandler func(ctx context.Context, err error) Reaction

// Outcome reports what the dispatcher did with one event.
type Outcome struct {
	Event      model.Event        `json:"event"`
	Decision   admission.Decision `json:"-"`
	Duplicate  bool               `json:"duplicate,omitempty"`
	Released   int                `json:"released,omitempty"` // deferred events of the target processed first
	Expired    int                `json:"expired,omitempty"`  // deferred events of the target dropped first
	Matched    []string           `json:"matched,omitempty"`
	Scheduled  int                `json:"scheduled"`
	Denied     int                `json:"denied,omitempty"`
	Overflowed int                `json:"overflowed,omitempty"`
}

type parked struct {
	ev model.Event
	at time.Time
}

type orderedQueue interface {
	Enqueue(t queue.Task) error
	EnqueueWait(ctx context.Context, t queue.Task, wait time.Duration) error
}

type unorderedPool interface {
	SubmitUnordered(t queue.Task) error
}

// dispatcher runs each event through admission, the entity cache, the
// registry and the execution queues. Dispatch is serialized: events are
// handled one at a time in arrival order.
type dispatcher struct {
	registry  *plugin.Registry
	cache     *cache.Cache
	admission *admission.Controller
	ordered   orderedQueue
	unordered unorderedPool
	out       plugin.Outbox
	store     plugin.Store
	dedupe    dedupe.Deduper
	ents      entities
	cm        model.Casemapping
	admins    masks

	deferDepth   int
	deferTTL     time.Duration
	overflow     Overflow
	overflowWait time.Duration
	onError      ErrorHandler
	now          func() time.Time
	logger       logger.Logger

	mu       sync.Mutex
	seq      uint64
	deferred map[model.Key][]parked
	parked   int
}

// Dispatch takes ev from Received to Completed. The returned error is
// non-nil only when the error handler asked to quit.
func (d *dispatcher) Dispatch(ctx context.Context, ev model.Event) (Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	arrived := d.now()
	d.seq++
	ev.Seq = d.seq
	supplied := ev.ID != ""
	if !supplied {
		ev.ID = uuid.NewString()
	}
	if ev.TS.IsZero() {
		ev.TS = arrived
	}
	out := Outcome{Event: ev}
	metrics.RecordEventReceived(ev.Kind.String())

	if supplied && d.dedupe.SeenAndRecord(ctx, ev.ID) {
		out.Duplicate = true
		out.Decision = admission.Drop
		metrics.RecordAdmission("duplicate")
		d.logger.Debug(ctx, "redelivered event ignored", logger.String("event_id", ev.ID))
		return out, nil
	}
	d.admission.ObserveArrival(arrived)

	key := d.cm.Key(ev.OrderingTarget())
	if err := d.release(ctx, key, &out); err != nil {
		return out, err
	}

	out.Decision = d.admission.ShouldAdmit(ev)
	switch out.Decision {
	case admission.Drop:
		metrics.RecordAdmission("drop")
		d.logger.Debug(ctx, "event dropped",
			logger.String("event_id", ev.ID),
			logger.String("kind", ev.Kind.String()),
			logger.String("target", ev.OrderingTarget()),
		)
		return out, nil
	case admission.Defer:
		if !d.park(key, ev, arrived) {
			out.Decision = admission.Drop
			metrics.RecordAdmission("drop")
			d.logger.Debug(ctx, "deferred queue full, event dropped",
				logger.String("event_id", ev.ID),
				logger.String("target", ev.OrderingTarget()),
			)
			return out, nil
		}
		metrics.RecordAdmission("defer")
		return out, nil
	}
	metrics.RecordAdmission("admit")
	err := d.process(ctx, ev, &out)
	if supplied && out.Overflowed > 0 && out.Scheduled == 0 {
		// Nothing will run, so a redelivery must not be filtered.
		d.dedupe.Unrecord(ctx, ev.ID)
	}
	return out, err
}

// Remembered returns how many delivery ids the redelivery filter holds.
func (d *dispatcher) Remembered() int64 {
	return d.dedupe.Size()
}

// park appends ev to the deferred FIFO of key. It reports false when the
// FIFO is full.
func (d *dispatcher) park(key model.Key, ev model.Event, at time.Time) bool {
	q := d.deferred[key]
	if len(q) >= d.deferDepth {
		return false
	}
	d.deferred[key] = append(q, parked{ev: ev, at: at})
	d.parked++
	metrics.UpdateEventsDeferred(d.parked)
	return true
}

// release re-decides the deferred events of key, oldest first, before a
// new event of the same target is handled. Deferred events are parked at
// most once: anything not admitted now is dropped.
func (d *dispatcher) release(ctx context.Context, key model.Key, out *Outcome) error {
	q, ok := d.deferred[key]
	if !ok {
		return nil
	}
	delete(d.deferred, key)
	d.parked -= len(q)
	defer metrics.UpdateEventsDeferred(d.parked)

	for _, p := range q {
		if d.admission.Recheck(p.ev) != admission.Admit {
			out.Expired++
			metrics.RecordAdmission("drop")
			continue
		}
		out.Released++
		metrics.RecordAdmission("admit")
		var scratch Outcome
		if err := d.process(ctx, p.ev, &scratch); err != nil {
			return err
		}
	}
	return nil
}

// FlushDeferred drops deferred events older than the defer TTL and
// processes those whose tier clears the current load level. Targets are
// visited in key order; within a target the FIFO order is kept, so the
// first event that must keep waiting holds back the ones behind it.
func (d *dispatcher) FlushDeferred(ctx context.Context) (released, dropped int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	keys := make([]model.Key, 0, len(d.deferred))
	for k := range d.deferred {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	defer func() { metrics.UpdateEventsDeferred(d.parked) }()
	for _, k := range keys {
		q := d.deferred[k]
		i := 0
		for ; i < len(q); i++ {
			p := q[i]
			if now.Sub(p.at) > d.deferTTL {
				dropped++
				metrics.RecordAdmission("drop")
				continue
			}
			if d.admission.Tier(p.ev.Kind) <= int(d.admission.Level()) {
				break
			}
			if d.admission.Recheck(p.ev) != admission.Admit {
				dropped++
				metrics.RecordAdmission("drop")
				continue
			}
			released++
			metrics.RecordAdmission("admit")
			var scratch Outcome
			if perr := d.process(ctx, p.ev, &scratch); perr != nil {
				d.keep(k, q[i+1:])
				return released, dropped, perr
			}
		}
		d.keep(k, q[i:])
	}
	return released, dropped, nil
}

func (d *dispatcher) keep(k model.Key, rest []parked) {
	d.parked -= len(d.deferred[k]) - len(rest)
	if len(rest) == 0 {
		delete(d.deferred, k)
		return
	}
	d.deferred[k] = rest
}

// Deferred returns the number of parked events.
func (d *dispatcher) Deferred() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parked
}

// process runs an admitted event through the cache, the registry and the
// queues.
func (d *dispatcher) process(ctx context.Context, ev model.Event, out *Outcome) error {
	if err := d.updateCache(ctx, ev); err != nil {
		if err := d.fail(ctx, fmt.Errorf("cache update for event %s: %w", ev.ID, err)); err != nil {
			return err
		}
	}

	matches := d.registry.Resolve(ev)
	if len(matches) == 0 {
		return nil
	}
	admin := d.admins.match(d.cm, ev.Source)
	key := d.cm.Key(ev.OrderingTarget()).String()

	for _, m := range matches {
		desc := m.Descriptor
		out.Matched = append(out.Matched, desc.Name)
		if desc.Auth == plugin.Admin && !admin {
			out.Denied++
			d.logger.Info(ctx, "admin plugin denied",
				logger.String("plugin", desc.Name),
				logger.String("source", ev.Source.String()),
			)
			continue
		}

		task := d.task(ev, m, key)
		var err error
		if desc.Concurrency == plugin.Independent {
			err = d.unordered.SubmitUnordered(task)
		} else {
			err = d.enqueue(ctx, task)
		}
		switch {
		case err == nil:
			out.Scheduled++
		case errors.Is(err, queue.ErrClosed), errors.Is(err, worker.ErrStopped):
			if ferr := d.fail(ctx, fmt.Errorf("schedule %s: %w", desc.Name, err)); ferr != nil {
				return ferr
			}
		default:
			out.Overflowed++
			metrics.RecordQueueOverflow(d.overflow.String())
			d.logger.Warn(ctx, "invocation shed, queue full",
				logger.String("plugin", desc.Name),
				logger.String("target", key),
				logger.String("event_id", ev.ID),
				logger.Error(err),
			)
		}
	}
	return nil
}

func (d *dispatcher) enqueue(ctx context.Context, t queue.Task) error {
	if d.overflow == OverflowBlock {
		return d.ordered.EnqueueWait(ctx, t, d.overflowWait)
	}
	return d.ordered.Enqueue(t)
}

func (d *dispatcher) task(ev model.Event, m plugin.Match, key string) queue.Task {
	desc := m.Descriptor
	inv := &plugin.Invocation{
		ID:       uuid.NewString(),
		Event:    ev,
		Match:    m,
		Entities: d.ents,
		Store:    d.store,
		Out:      d.out,
		Log:      d.logger.Named(desc.Name),
	}
	return queue.Task{
		ID:       inv.ID,
		Target:   key,
		Name:     desc.Name,
		Timeout:  desc.Timeout,
		Enqueued: d.now(),
		Run: func(ctx context.Context) error {
			return desc.Handler.Handle(ctx, inv)
		},
	}
}

// complete records a finished invocation. Failures stay contained here.
func (d *dispatcher) complete(r worker.Result) {
	metrics.RecordInvocation(r.Task.Name, r.Outcome(), float64(r.Latency)/float64(time.Millisecond))
	if r.Canceled {
		// Shutdown cut it short; its latency says nothing about load.
		d.logger.Debug(context.Background(), "plugin invocation canceled",
			logger.String("plugin", r.Task.Name),
			logger.String("invocation_id", r.Task.ID),
		)
		return
	}
	d.admission.Observe(admission.SampleLatency, r.Latency)
	if r.OK() {
		return
	}
	metrics.RecordErrorByComponent("plugin", r.Outcome())
	d.logger.Warn(context.Background(), "plugin invocation failed",
		logger.String("plugin", r.Task.Name),
		logger.String("target", r.Task.Target),
		logger.String("invocation_id", r.Task.ID),
		logger.String("outcome", r.Outcome()),
		logger.Duration("latency", r.Latency),
		logger.Error(fmt.Errorf("%w: %w", plugin.ErrPluginFailure, r.Err)),
	)
}

func (d *dispatcher) fail(ctx context.Context, err error) error {
	metrics.RecordErrorByComponent("dispatcher", "internal")
	if d.onError(ctx, err) == Quit {
		return fmt.Errorf("%w: %w", ErrQuit, err)
	}
	return nil
}

func defaultErrorHandler(log logger.Logger) ErrorHandler {
	return func(ctx context.Context, err error) Reaction {
		log.Error(ctx, "dispatcher error", logger.Error(err))
		return Proceed
	}
}
