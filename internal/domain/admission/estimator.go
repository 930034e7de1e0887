// Package admission decides whether incoming events are processed now,
// deferred, or dropped, based on streaming quantile estimates of recent
// arrival gaps and invocation latency.
package admission

import (
	"sync"
	"time"

	"github.com/beorn7/perks/quantile"
)

// Tracked quantiles.
const (
	P50 = 0.5
	P90 = 0.9
	P99 = 0.99
)

const (
	defaultWindow     = time.Minute
	defaultAgeBuckets = 5
	defaultEpsilon    = 0.01
)

// Estimator is a windowed, approximate quantile sketch. Samples are inserted
// into every age bucket; queries read the oldest live bucket, which covers
// between window-window/buckets and window of history. Memory is bounded by
// the CKMS compression of each bucket, never by the number of samples.
type Estimator struct {
	mu          sync.Mutex
	objectives  map[float64]float64
	streams     []*quantile.Stream
	head        int
	headExpires time.Time
	bucketDur   time.Duration
	window      time.Duration
	now         func() time.Time
}

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithWindow sets how much history the quantiles cover and how many age
// buckets it is split into.
func WithWindow(window time.Duration, buckets int) EstimatorOption {
	return func(e *Estimator) {
		if window > 0 {
			e.window = window
		}
		if buckets > 0 {
			e.streams = make([]*quantile.Stream, buckets)
		}
	}
}

// WithEpsilon sets the allowed rank error for every tracked quantile.
func WithEpsilon(eps float64) EstimatorOption {
	return func(e *Estimator) {
		if eps > 0 && eps < 1 {
			for q := range e.objectives {
				e.objectives[q] = eps
			}
		}
	}
}

// WithEstimatorClock sets the time source used for bucket rotation.
func WithEstimatorClock(now func() time.Time) EstimatorOption {
	return func(e *Estimator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEstimator creates an empty estimator tracking p50, p90 and p99.
func NewEstimator(opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		objectives: map[float64]float64{P50: defaultEpsilon, P90: defaultEpsilon, P99: defaultEpsilon},
		streams:    make([]*quantile.Stream, defaultAgeBuckets),
		window:     defaultWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	for i := range e.streams {
		e.streams[i] = quantile.NewTargeted(e.objectives)
	}
	e.bucketDur = e.window / time.Duration(len(e.streams))
	e.headExpires = e.now().Add(e.bucketDur)
	return e
}

// Observe adds one sample.
func (e *Estimator) Observe(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rotate(e.now())
	for _, s := range e.streams {
		s.Insert(v)
	}
}

// Query returns the estimated q-quantile, or 0 without samples.
func (e *Estimator) Query(q float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rotate(e.now())
	return e.streams[e.head].Query(q)
}

// Count returns the number of samples inside the current window.
func (e *Estimator) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rotate(e.now())
	return e.streams[e.head].Count()
}

// Snapshot is a consistent read of the tracked quantiles.
type Snapshot struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Snapshot reads count and all tracked quantiles under one lock.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rotate(e.now())
	s := e.streams[e.head]
	return Snapshot{
		Count: s.Count(),
		P50:   s.Query(P50),
		P90:   s.Query(P90),
		P99:   s.Query(P99),
	}
}

// rotate retires expired buckets. Callers hold e.mu.
func (e *Estimator) rotate(now time.Time) {
	if now.Before(e.headExpires) {
		return
	}
	if now.Sub(e.headExpires) >= e.window {
		for _, s := range e.streams {
			s.Reset()
		}
		e.head = 0
		e.headExpires = now.Add(e.bucketDur)
		return
	}
	for !now.Before(e.headExpires) {
		e.streams[e.head].Reset()
		e.head = (e.head + 1) % len(e.streams)
		e.headExpires = e.headExpires.Add(e.bucketDur)
	}
}
