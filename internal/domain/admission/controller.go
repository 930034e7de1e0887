package admission

import (
	"math"
	"sync"
	"time"

	"github.com/okian/parley/internal/domain/model"
)

// Default policy values.
const (
	defaultElevated     = 250 * time.Millisecond
	defaultHigh         = time.Second
	defaultCritical     = 3 * time.Second
	defaultMinGap       = 20 * time.Millisecond
	defaultWarmup       = 50
	defaultBurst        = 20
	defaultBurstWindow  = 10 * time.Second
	defaultBaseInterval = 500 * time.Millisecond
	defaultMaxInterval  = 4 * time.Second

	burstPruneAt = 1024
)

// DefaultTiers is the built in kind to tier mapping. Higher tiers are shed
// later; messages carry commands and are shed last.
func DefaultTiers() map[model.EventKind]int {
	return map[model.EventKind]int{
		model.KindMessage: 3,
		model.KindNotice:  2,
		model.KindJoin:    2,
		model.KindPart:    2,
		model.KindQuit:    2,
		model.KindNick:    2,
		model.KindTopic:   1,
		model.KindKick:    1,
		model.KindMode:    1,
		model.KindTick:    1,
	}
}

type burstState struct {
	start time.Time
	count int
}

// Stats is a snapshot of the controller.
type Stats struct {
	Level     string   `json:"level"`
	Gap       Snapshot `json:"gap"`
	Latency   Snapshot `json:"latency"`
	Outbound  Snapshot `json:"outbound"`
	Admitted  uint64   `json:"admitted"`
	Deferred  uint64   `json:"deferred"`
	Dropped   uint64   `json:"dropped"`
	Interval  string   `json:"outboundInterval"`
	BurstKeys int      `json:"burstTargets"`
}

// Controller gates events by estimated load. It is safe for concurrent use:
// workers and the sink feed samples while the dispatcher asks for decisions.
type Controller struct {
	gap      *Estimator
	latency  *Estimator
	outbound *Estimator

	tiers         map[model.EventKind]int
	thresholds    [3]time.Duration
	quantile      float64
	minGap        time.Duration
	warmup        int
	burst         int
	burstWindow   time.Duration
	baseInterval  time.Duration
	maxInterval   time.Duration
	estimatorOpts []EstimatorOption
	targetKey     func(model.Event) string
	now           func() time.Time

	mu          sync.Mutex
	lastArrival time.Time
	bursts      map[string]*burstState
	admitted    uint64
	deferred    uint64
	dropped     uint64
}

// New creates a controller with the default policy.
func New(opts ...Option) *Controller {
	c := &Controller{
		tiers:        DefaultTiers(),
		thresholds:   [3]time.Duration{defaultElevated, defaultHigh, defaultCritical},
		quantile:     P99,
		minGap:       defaultMinGap,
		warmup:       defaultWarmup,
		burst:        defaultBurst,
		burstWindow:  defaultBurstWindow,
		baseInterval: defaultBaseInterval,
		maxInterval:  defaultMaxInterval,
		targetKey:    func(ev model.Event) string { return ev.OrderingTarget() },
		now:          time.Now,
		bursts:       make(map[string]*burstState),
	}
	for _, opt := range opts {
		opt(c)
	}
	eopts := append([]EstimatorOption{WithEstimatorClock(c.now)}, c.estimatorOpts...)
	c.gap = NewEstimator(eopts...)
	c.latency = NewEstimator(eopts...)
	c.outbound = NewEstimator(eopts...)
	return c
}

// Observe feeds one timing sample into the matching estimator.
func (c *Controller) Observe(kind SampleKind, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	switch kind {
	case SampleGap:
		c.gap.Observe(ms)
	case SampleLatency:
		c.latency.Observe(ms)
	case SampleOutbound:
		c.outbound.Observe(ms)
	}
}

// ObserveArrival records the gap between this arrival and the previous one.
func (c *Controller) ObserveArrival(at time.Time) {
	c.mu.Lock()
	prev := c.lastArrival
	if at.After(prev) || prev.IsZero() {
		c.lastArrival = at
	}
	c.mu.Unlock()

	if prev.IsZero() {
		return
	}
	gap := at.Sub(prev)
	if gap < 0 {
		gap = 0
	}
	c.Observe(SampleGap, gap)
}

// Level computes the current load level from both estimators.
func (c *Controller) Level() Level {
	return max(c.latencyLevel(), c.gapLevel())
}

func (c *Controller) latencyLevel() Level {
	if c.latency.Count() < max(c.warmup, 1) {
		return LevelNormal
	}
	v := time.Duration(c.latency.Query(c.quantile) * float64(time.Millisecond))
	switch {
	case v >= c.thresholds[2]:
		return LevelCritical
	case v >= c.thresholds[1]:
		return LevelHigh
	case v >= c.thresholds[0]:
		return LevelElevated
	default:
		return LevelNormal
	}
}

// gapLevel rises one step below min_gap and one more per halving of it.
func (c *Controller) gapLevel() Level {
	if c.minGap == 0 || c.gap.Count() < max(c.warmup, 1) {
		return LevelNormal
	}
	minMs := float64(c.minGap) / float64(time.Millisecond)
	g := c.gap.Query(P50)
	if g >= minMs {
		return LevelNormal
	}
	if g <= 0 {
		return LevelCritical
	}
	steps := 1 + int(math.Floor(math.Log2(minMs/g)))
	return Level(min(steps, int(LevelCritical)))
}

// Tier returns the admission tier configured for kind.
func (c *Controller) Tier(kind model.EventKind) int {
	return c.tiers[kind]
}

// ShouldAdmit decides the fate of ev at the current load. An event whose
// tier is above the level is admitted, one at the level is deferred, and
// one below is dropped. Admitted events also pass the per-target burst guard.
func (c *Controller) ShouldAdmit(ev model.Event) Decision {
	return c.decide(ev, true)
}

// Recheck decides a previously deferred event. Anything short of Admit
// becomes Drop so deferred events are parked at most once.
func (c *Controller) Recheck(ev model.Event) Decision {
	return c.decide(ev, false)
}

func (c *Controller) decide(ev model.Event, allowDefer bool) Decision {
	headroom := c.tiers[ev.Kind] - int(c.Level())

	c.mu.Lock()
	defer c.mu.Unlock()

	d := Drop
	switch {
	case headroom >= 1:
		d = Admit
	case headroom == 0 && allowDefer:
		d = Defer
	}
	if d == Admit && !c.allowBurst(c.targetKey(ev)) {
		d = Drop
	}

	switch d {
	case Admit:
		c.admitted++
	case Defer:
		c.deferred++
	case Drop:
		c.dropped++
	}
	return d
}

// allowBurst counts one admission for target. Callers hold c.mu.
func (c *Controller) allowBurst(target string) bool {
	if c.burst == 0 {
		return true
	}
	now := c.now()
	st, ok := c.bursts[target]
	if !ok || now.Sub(st.start) >= c.burstWindow {
		if len(c.bursts) >= burstPruneAt {
			c.pruneBursts(now)
		}
		c.bursts[target] = &burstState{start: now, count: 1}
		return true
	}
	if st.count >= c.burst {
		return false
	}
	st.count++
	return true
}

func (c *Controller) pruneBursts(now time.Time) {
	for k, st := range c.bursts {
		if now.Sub(st.start) >= c.burstWindow {
			delete(c.bursts, k)
		}
	}
}

// OutboundInterval is the pacing interval for replies: the base interval
// scaled by one plus the load level, capped at the maximum.
func (c *Controller) OutboundInterval() time.Duration {
	return min(c.baseInterval*time.Duration(1+int(c.Level())), c.maxInterval)
}

// Stats returns estimator snapshots and decision counters.
func (c *Controller) Stats() Stats {
	level := c.Level()
	interval := c.OutboundInterval()
	gap, lat, out := c.gap.Snapshot(), c.latency.Snapshot(), c.outbound.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Level:     level.String(),
		Gap:       gap,
		Latency:   lat,
		Outbound:  out,
		Admitted:  c.admitted,
		Deferred:  c.deferred,
		Dropped:   c.dropped,
		Interval:  interval.String(),
		BurstKeys: len(c.bursts),
	}
}
