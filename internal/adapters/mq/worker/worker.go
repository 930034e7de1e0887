// Package worker runs queued plugin invocations.
//
// Ordered workers pull ready targets from a Source, so at most one task per
// target runs at a time. Unordered workers drain a bounded channel and run
// tasks as soon as a worker is free.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/parley/internal/adapters/mq/queue"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	defaultUnordered        = 4
	defaultUnorderedCap     = 256
	defaultTimeout          = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Source hands out ordered tasks one target at a time.
type Source interface {
	Next(ctx context.Context) (queue.Task, error)
	Done(key string)
}

// Result describes one finished task.
type Result struct {
	Task     queue.Task
	Err      error
	Latency  time.Duration
	TimedOut bool
	Canceled bool // the pool shut down while the task ran
	Panicked bool
}

// OK reports whether the task completed without error.
func (r Result) OK() bool { return r.Err == nil }

// Outcome returns a short label for metrics: ok, error, timeout, canceled
// or panic.
func (r Result) Outcome() string {
	switch {
	case r.Canceled:
		return "canceled"
	case r.TimedOut:
		return "timeout"
	case r.Panicked:
		return "panic"
	case r.Err != nil:
		return "error"
	default:
		return "ok"
	}
}

// Pool manages ordered and unordered workers.
type Pool struct {
	src       Source
	unordered chan queue.Task

	workerCount    int
	unorderedCount int
	unorderedCap   int
	defaultTimeout time.Duration
	onResult       func(Result)

	// Shutdown control
	mu       sync.Mutex
	started  bool
	stopped  bool
	shutdown chan struct{}
	wg       sync.WaitGroup

	logger logger.Logger
}

// NewPool creates a pool that pulls ordered tasks from src.
func NewPool(src Source, opts ...Option) *Pool {
	p := &Pool{
		src:            src,
		workerCount:    runtime.NumCPU() * defaultWorkerMultiplier,
		unorderedCount: defaultUnordered,
		unorderedCap:   defaultUnorderedCap,
		defaultTimeout: defaultTimeout,
		shutdown:       make(chan struct{}),
		logger:         logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.unordered = make(chan queue.Task, p.unorderedCap)
	return p
}

// Start launches the workers. They run until ctx is canceled or Shutdown
// is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-p.shutdown:
		case <-runCtx.Done():
		}
		cancel()
	}()

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.runOrdered(runCtx, p.logger.Named("ordered-"+strconv.Itoa(i)))
	}
	for i := 0; i < p.unorderedCount; i++ {
		p.wg.Add(1)
		go p.runUnordered(runCtx)
	}
	metrics.UpdateWorkerCount(p.workerCount + p.unorderedCount)
	p.logger.Info(ctx, "worker pool started",
		logger.Int("ordered", p.workerCount),
		logger.Int("unordered", p.unorderedCount),
	)
}

// SubmitUnordered queues t for the unordered workers without blocking.
func (p *Pool) SubmitUnordered(t queue.Task) error {
	select {
	case <-p.shutdown:
		return ErrStopped
	default:
	}
	if t.Enqueued.IsZero() {
		t.Enqueued = time.Now()
	}
	select {
	case p.unordered <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of unordered tasks waiting for a worker.
func (p *Pool) Pending() int { return len(p.unordered) }

func (p *Pool) runOrdered(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()
	for {
		t, err := p.src.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
				log.Error(ctx, "next task", logger.Error(err))
			}
			return
		}
		p.finish(p.Execute(ctx, t))
		p.src.Done(t.Target)
	}
}

func (p *Pool) runUnordered(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.unordered:
			p.finish(p.Execute(ctx, t))
		}
	}
}

func (p *Pool) finish(r Result) {
	if p.onResult != nil {
		p.onResult(r)
	}
}

// Execute runs t under its time budget. A task that outlives its budget is
// abandoned: its goroutine keeps running until it returns but its result
// is discarded. Panics are recovered and reported as errors.
func (p *Pool) Execute(ctx context.Context, t queue.Task) Result {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.AddWorkerActive(1)
	defer metrics.AddWorkerActive(-1)

	type outcome struct {
		err      error
		panicked bool
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, rec), panicked: true}
			}
		}()
		done <- outcome{err: t.Run(tctx)}
	}()

	r := Result{Task: t}
	select {
	case o := <-done:
		r.Err = o.err
		r.Panicked = o.panicked
		switch {
		case o.err == nil:
		case ctx.Err() != nil && errors.Is(o.err, ctx.Err()):
			r.Canceled = true
		case errors.Is(o.err, context.DeadlineExceeded) && tctx.Err() != nil:
			r.TimedOut = true
		}
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			r.Canceled = true
			r.Err = fmt.Errorf("%w: %w", ErrCanceled, err)
			break
		}
		r.TimedOut = true
		r.Err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	r.Latency = time.Since(start)
	if r.TimedOut && !errors.Is(r.Err, ErrTimeout) {
		r.Err = fmt.Errorf("%w: %w", ErrTimeout, r.Err)
	}
	if r.Canceled && !errors.Is(r.Err, ErrCanceled) {
		r.Err = fmt.Errorf("%w: %w", ErrCanceled, r.Err)
	}
	return r
}

// Shutdown stops the workers and waits for running tasks to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.shutdown)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	select {
	case <-done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
	}
}
