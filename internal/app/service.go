// Package service wires the dispatcher, the execution pool, the entity
// cache and the reply sink into a running bot, and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/okian/parley/internal/adapters/mq/queue"
	"github.com/okian/parley/internal/adapters/mq/worker"
	"github.com/okian/parley/internal/adapters/sink"
	"github.com/okian/parley/internal/domain/admission"
	"github.com/okian/parley/internal/domain/cache"
	"github.com/okian/parley/internal/domain/dedupe"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
	"github.com/okian/parley/internal/schedule"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

const (
	defaultNick        = "parley"
	defaultPrefix      = "!"
	defaultCache       = 4096
	defaultQueueDepth  = 64
	defaultMaxTargets  = 1024
	defaultIdleTTL     = time.Minute
	defaultTimeout     = 5 * time.Second
	defaultDeferDepth  = 16
	defaultDeferTTL    = 30 * time.Second
	defaultWait        = 250 * time.Millisecond
	defaultDedupe      = 4096
	defaultMaintenance = time.Second
	stopTimeout        = 30 * time.Second
	drainPoll          = 5 * time.Millisecond
)

// Source is an inbound event stream, typically a transport.
type Source interface {
	Events() <-chan model.Event
}

// Service owns every runtime component of the bot.
type Service struct {
	mu sync.RWMutex

	// Configuration
	nick              string
	prefix            string
	casemapping       model.Casemapping
	admins            []string
	cacheCapacity     int
	admissionOpts     []admission.Option
	workerCount       int
	unorderedWorkers  int
	unorderedCap      int
	queueDepth        int
	maxTargets        int
	idleTTL           time.Duration
	invocationTimeout time.Duration
	deferDepth        int
	deferTTL          time.Duration
	overflow          Overflow
	overflowWait      time.Duration
	dedupeSize        int
	sink              sink.Sink
	sinkOpts          []sink.Option
	store             plugin.Store
	schedule          *schedule.Scheduler
	onError           ErrorHandler
	maintenance       time.Duration
	now               func() time.Time

	// Components
	registry   *plugin.Registry
	cache      *cache.Cache
	controller *admission.Controller
	queues     *queue.TargetQueues
	pool       *worker.Pool
	outbox     *sink.Adapter
	dispatch   *dispatcher

	// State
	started bool
	stopped bool
	stopCh  chan struct{}
	loops   sync.WaitGroup

	logger logger.Logger
}

// New builds a service. Plugins may be registered on Registry() before or
// after Start.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		nick:              defaultNick,
		prefix:            defaultPrefix,
		casemapping:       model.RFC1459,
		cacheCapacity:     defaultCache,
		workerCount:       runtime.NumCPU() * 4,
		unorderedWorkers:  4,
		unorderedCap:      256,
		queueDepth:        defaultQueueDepth,
		maxTargets:        defaultMaxTargets,
		idleTTL:           defaultIdleTTL,
		invocationTimeout: defaultTimeout,
		deferDepth:        defaultDeferDepth,
		deferTTL:          defaultDeferTTL,
		overflowWait:      defaultWait,
		dedupeSize:        defaultDedupe,
		maintenance:       defaultMaintenance,
		now:               time.Now,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.onError == nil {
		s.onError = defaultErrorHandler(s.logger.Named("dispatcher"))
	}

	admins, err := compileMasks(s.casemapping, s.admins)
	if err != nil {
		return nil, err
	}

	s.registry = plugin.NewRegistry(
		plugin.WithNick(s.nick),
		plugin.WithCommandPrefix(s.prefix),
		plugin.WithCasemapping(s.casemapping),
	)
	s.cache = cache.New(
		cache.WithCapacity(s.cacheCapacity),
		cache.WithClock(s.now),
		cache.WithOnEvict(func(model.Key) { metrics.RecordCacheEviction() }),
	)
	cm := s.casemapping
	aopts := append([]admission.Option{
		admission.WithClock(s.now),
		admission.WithTargetKey(func(ev model.Event) string { return cm.Key(ev.OrderingTarget()).String() }),
	}, s.admissionOpts...)
	s.controller = admission.New(aopts...)

	s.queues = queue.New(
		queue.WithDepth(s.queueDepth),
		queue.WithMaxTargets(s.maxTargets),
		queue.WithIdleTTL(s.idleTTL),
		queue.WithClock(s.now),
	)

	out := s.sink
	if out == nil {
		log := s.logger.Named("discard")
		out = sink.SinkFunc(func(ctx context.Context, msg model.Message) error {
			log.Debug(ctx, "reply discarded", logger.String("target", msg.Target), logger.String("text", msg.Text))
			return nil
		})
	}
	sopts := append([]sink.Option{
		sink.WithPacer(s.controller),
		sink.WithCasemapping(s.casemapping),
	}, s.sinkOpts...)
	s.outbox = sink.New(out, sopts...)

	s.dispatch = &dispatcher{
		registry:     s.registry,
		cache:        s.cache,
		admission:    s.controller,
		ordered:      s.queues,
		out:          s.outbox,
		store:        s.store,
		dedupe:       dedupe.NewWindowDeduper(dedupe.WithMaxSize(s.dedupeSize)),
		ents:         entities{cache: s.cache, cm: s.casemapping},
		cm:           s.casemapping,
		admins:       admins,
		deferDepth:   s.deferDepth,
		deferTTL:     s.deferTTL,
		overflow:     s.overflow,
		overflowWait: s.overflowWait,
		onError:      s.onError,
		now:          s.now,
		logger:       s.logger.Named("dispatcher"),
		deferred:     make(map[model.Key][]parked),
	}
	s.pool = worker.NewPool(s.queues,
		worker.WithWorkers(s.workerCount),
		worker.WithUnordered(s.unorderedWorkers, s.unorderedCap),
		worker.WithDefaultTimeout(s.invocationTimeout),
		worker.WithResultHook(s.dispatch.complete),
		worker.WithLogger(s.logger.Named("worker-pool")),
	)
	s.dispatch.unordered = s.pool
	return s, nil
}

// Registry returns the plugin registry.
func (s *Service) Registry() *plugin.Registry { return s.registry }

// SetEnabled enables or disables a registered plugin.
func (s *Service) SetEnabled(name string, enabled bool) error {
	return s.registry.SetEnabled(name, enabled)
}

// Admission returns the admission controller.
func (s *Service) Admission() *admission.Controller { return s.controller }

// Start launches the workers and the maintenance loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting service...")

	s.pool.Start(ctx)
	s.loops.Add(1)
	go s.maintain(ctx)

	s.started = true
	metrics.UpdateRegistryPlugins(s.registry.Len())
	s.logger.Info(ctx, "service started",
		logger.String("nick", s.registry.Nick()),
		logger.Int("plugins", s.registry.Len()),
		logger.Int("workers", s.workerCount),
		logger.Int("queueDepth", s.queueDepth),
		logger.Int("cacheCapacity", s.cacheCapacity),
	)
	return nil
}

// Stop refuses new events, waits for in-flight dispatch, drains queued
// invocations, then closes the queues, the pool and the reply sink. It is
// safe to call more than once.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true
	s.logger.Info(ctx, "stopping service...")

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	close(s.stopCh)
	s.loops.Wait()

	s.drain(ctx)
	_ = s.queues.Close()
	var firstErr error
	if err := s.pool.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := s.outbox.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info(ctx, "service stopped")
	return firstErr
}

// drain waits until every queued invocation has been handed to a worker,
// or ctx is done.
func (s *Service) drain(ctx context.Context) {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for s.queues.Len() > 0 || s.pool.Pending() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn(ctx, "stopping with queued invocations",
				logger.Int("queued", s.queues.Len()), logger.Int("unordered", s.pool.Pending()))
			return
		case <-ticker.C:
		}
	}
}

// Dispatch runs one event through the pipeline. It is safe to call from
// several goroutines; events are serialized in call order. It returns
// ErrNotStarted before Start and after Stop.
func (s *Service) Dispatch(ctx context.Context, ev model.Event) (Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.stopped {
		return Outcome{Event: ev}, ErrNotStarted
	}
	return s.dispatch.Dispatch(ctx, ev)
}

// Inject validates and dispatches an event that did not come from the
// transport, e.g. one posted to the HTTP API.
func (s *Service) Inject(ctx context.Context, ev model.Event) (Outcome, error) {
	if err := validate(ev); err != nil {
		return Outcome{Event: ev}, err
	}
	return s.Dispatch(ctx, ev)
}

// Run dispatches events from src, merged with scheduler ticks, until ctx
// is done, the service stops, src closes its stream or the error handler
// asks to quit.
func (s *Service) Run(ctx context.Context, src Source) error {
	s.mu.RLock()
	running := s.started && !s.stopped
	s.mu.RUnlock()
	if !running {
		return ErrNotStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticks := make(chan model.Event, 16)
	if s.schedule != nil && s.schedule.Len() > 0 {
		go func() {
			err := s.schedule.Run(ctx, func(ev model.Event) {
				select {
				case ticks <- ev:
				case <-ctx.Done():
				}
			})
			if err != nil && ctx.Err() == nil {
				s.logger.Error(ctx, "scheduler stopped", logger.Error(err))
			}
		}()
	}

	events := src.Events()
	for {
		var ev model.Event
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			s.logger.Info(ctx, "service stopped, leaving the event loop")
			return nil
		case e, ok := <-events:
			if !ok {
				s.logger.Info(ctx, "event source closed")
				return nil
			}
			ev = e
		case ev = <-ticks:
		}
		if err := validate(ev); err != nil {
			s.logger.Warn(ctx, "invalid event skipped", logger.String("event_id", ev.ID), logger.Error(err))
			continue
		}
		if _, err := s.Dispatch(ctx, ev); err != nil {
			if errors.Is(err, ErrNotStarted) {
				return nil
			}
			return err
		}
	}
}

// maintain sweeps idle queues, flushes deferred events and refreshes
// gauges until the service stops.
func (s *Service) maintain(ctx context.Context) {
	defer s.loops.Done()
	ticker := time.NewTicker(s.maintenance)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.queues.Sweep()
			released, dropped, err := s.dispatch.FlushDeferred(ctx)
			if err != nil {
				s.logger.Error(ctx, "flush deferred events", logger.Error(err))
			}
			if released > 0 || dropped > 0 {
				s.logger.Debug(ctx, "deferred events flushed",
					logger.Int("released", released),
					logger.Int("dropped", dropped),
				)
			}
			s.updateGauges()
		}
	}
}

func (s *Service) updateGauges() {
	cs := s.cache.Stats()
	metrics.UpdateCacheEntries(cs.Resident, cs.Hot)
	metrics.UpdateRegistryPlugins(s.registry.Len())
	metrics.UpdateAdmissionLevel(int(s.controller.Level()))
	as := s.controller.Stats()
	for name, snap := range map[string]admission.Snapshot{"gap": as.Gap, "latency": as.Latency, "outbound": as.Outbound} {
		metrics.UpdateAdmissionQuantile(name, "p50", snap.P50)
		metrics.UpdateAdmissionQuantile(name, "p90", snap.P90)
		metrics.UpdateAdmissionQuantile(name, "p99", snap.P99)
	}
}

// Plugins lists registered plugins in resolution order.
func (s *Service) Plugins() []plugin.Info {
	return s.registry.Descriptors()
}

// Entity returns the cached record for a nick or channel name without
// counting as a reference.
func (s *Service) Entity(_ context.Context, name string) (cache.Record, bool) {
	return s.cache.Peek(s.casemapping.Key(name))
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs := s.cache.Stats()
	metrics.UpdateCacheEntries(cs.Resident, cs.Hot)
	metrics.UpdateQueueDepth(s.queues.Len(), s.queues.Targets())

	return map[string]interface{}{
		"started":   s.started && !s.stopped,
		"nick":      s.registry.Nick(),
		"plugins":   s.registry.Len(),
		"workers":   s.workerCount,
		"cache":     cs,
		"admission": s.controller.Stats(),
		"queue": map[string]int{
			"pending":   s.queues.Len(),
			"targets":   s.queues.Targets(),
			"unordered": s.pool.Pending(),
		},
		"deferred": s.dispatch.Deferred(),
		"dedupe":   s.dispatch.Remembered(),
		"sink": map[string]int{
			"pending": s.outbox.Pending(),
			"targets": s.outbox.Targets(),
		},
	}
}
