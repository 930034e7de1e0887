// Package sink paces outbound replies towards the protocol client.
//
// Every target gets its own bounded FIFO drained by a sender goroutine that
// is started on demand and exits once the target has been quiet for a
// while. All senders share one rate limiter whose rate follows the
// admission controller's outbound interval.
package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/okian/parley/internal/domain/admission"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

// Default adapter configuration constants.
const (
	defaultDepth    = 64
	defaultMaxLine  = 400
	defaultBurst    = 4
	defaultIdle     = 30 * time.Second
	defaultInterval = 500 * time.Millisecond
)

// Sink delivers one line to the protocol client.
type Sink interface {
	Send(ctx context.Context, msg model.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg model.Message) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, msg model.Message) error { return f(ctx, msg) }

// Pacer supplies the outbound interval and receives send latencies.
type Pacer interface {
	OutboundInterval() time.Duration
	Observe(kind admission.SampleKind, d time.Duration)
}

type lane struct {
	ch chan model.Message
}

// Adapter queues replies per target and hands them to a Sink.
type Adapter struct {
	sink    Sink
	limiter *rate.Limiter

	mu      sync.Mutex
	lanes   map[string]*lane
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	depth   int
	maxLine int
	burst   int
	idle    time.Duration
	pacer   Pacer
	cm      model.Casemapping
	logger  logger.Logger
}

// New creates an adapter delivering to s.
func New(s Sink, opts ...Option) *Adapter {
	a := &Adapter{
		sink:    s,
		lanes:   make(map[string]*lane),
		closing: make(chan struct{}),
		depth:   defaultDepth,
		maxLine: defaultMaxLine,
		burst:   defaultBurst,
		idle:    defaultIdle,
		logger:  logger.Get().Named("sink"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.limiter = rate.NewLimiter(rate.Every(a.interval()), a.burst)
	return a
}

func (a *Adapter) interval() time.Duration {
	if a.pacer == nil {
		return defaultInterval
	}
	if d := a.pacer.OutboundInterval(); d > 0 {
		return d
	}
	return defaultInterval
}

// Submit splits msg into lines and queues them for the message's target.
// It never blocks. When the target queue fills up the remaining lines are
// dropped and ErrQueueFull is returned.
func (a *Adapter) Submit(_ context.Context, msg model.Message) error {
	if strings.TrimSpace(msg.Target) == "" {
		return ErrNoTarget
	}
	lines := SplitLines(msg.Text, a.maxLine)
	if len(lines) == 0 {
		return nil
	}
	key := a.cm.Fold(msg.Target)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	l, ok := a.lanes[key]
	if !ok {
		l = &lane{ch: make(chan model.Message, a.depth)}
		a.lanes[key] = l
		a.wg.Add(1)
		go a.run(key, l)
	}
	for i, line := range lines {
		select {
		case l.ch <- model.Message{Target: msg.Target, Text: line, Kind: msg.Kind}:
			metrics.RecordSinkMessage("queued")
		default:
			dropped := len(lines) - i
			for j := 0; j < dropped; j++ {
				metrics.RecordSinkMessage("dropped")
			}
			return fmt.Errorf("%w: %s, %d line(s) dropped", ErrQueueFull, msg.Target, dropped)
		}
	}
	return nil
}

func (a *Adapter) run(key string, l *lane) {
	defer a.wg.Done()
	timer := time.NewTimer(a.idle)
	defer timer.Stop()
	for {
		select {
		case msg := <-l.ch:
			a.deliver(msg)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(a.idle)
		case <-timer.C:
			a.mu.Lock()
			if len(l.ch) == 0 {
				delete(a.lanes, key)
				a.mu.Unlock()
				return
			}
			a.mu.Unlock()
			timer.Reset(a.idle)
		case <-a.closing:
			for {
				select {
				case msg := <-l.ch:
					a.deliver(msg)
				default:
					return
				}
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Adapter) deliver(msg model.Message) {
	if limit := rate.Every(a.interval()); a.limiter.Limit() != limit {
		a.limiter.SetLimit(limit)
	}
	if err := a.limiter.Wait(a.ctx); err != nil {
		metrics.RecordSinkMessage("dropped")
		return
	}
	start := time.Now()
	err := a.sink.Send(a.ctx, msg)
	latency := time.Since(start)
	metrics.RecordSinkLatency(float64(latency.Milliseconds()))
	if a.pacer != nil {
		a.pacer.Observe(admission.SampleOutbound, latency)
	}
	if err != nil {
		metrics.RecordSinkMessage("error")
		metrics.RecordErrorByComponent("sink", "send_error")
		a.logger.Warn(a.ctx, "send failed",
			logger.String("target", msg.Target),
			logger.Error(err),
		)
		return
	}
	metrics.RecordSinkMessage("sent")
}

// Pending returns the number of queued lines across all targets.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, l := range a.lanes {
		n += len(l.ch)
	}
	return n
}

// Targets returns the number of targets with a live sender.
func (a *Adapter) Targets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lanes)
}

// Close stops accepting messages and lets senders drain until ctx is done.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.closing)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		return fmt.Errorf("sink drain interrupted: %w", ctx.Err())
	}
}

// SplitLines breaks text on newlines and then into pieces of at most maxBytes
// bytes, preferring to cut at a space and never inside a UTF-8 sequence.
// Blank lines are skipped.
func SplitLines(text string, maxBytes int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		for len(line) > maxBytes {
			cut := maxBytes
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if sp := strings.LastIndexByte(line[:cut+1], ' '); sp > 0 {
				cut = sp
			}
			if cut == 0 {
				_, size := utf8.DecodeRuneInString(line)
				cut = size
			}
			out = append(out, line[:cut])
			line = strings.TrimLeft(line[cut:], " ")
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
