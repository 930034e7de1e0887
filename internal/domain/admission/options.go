package admission

import (
	"time"

	"github.com/okian/parley/internal/domain/model"
)

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithTiers overrides the admission tier of individual event kinds.
// Kinds not present keep their default tier.
func WithTiers(tiers map[model.EventKind]int) Option {
	return func(c *Controller) {
		for k, t := range tiers {
			c.tiers[k] = t
		}
	}
}

// WithLatencyThresholds sets the latency quantile values at which the load
// level rises to elevated, high and critical.
func WithLatencyThresholds(elevated, high, critical time.Duration) Option {
	return func(c *Controller) {
		if elevated > 0 && high >= elevated && critical >= high {
			c.thresholds = [3]time.Duration{elevated, high, critical}
		}
	}
}

// WithQuantile sets which latency quantile is compared with the thresholds.
// The default is P99.
func WithQuantile(q float64) Option {
	return func(c *Controller) {
		if q == P50 || q == P90 || q == P99 {
			c.quantile = q
		}
	}
}

// WithMinGap sets the median inter-arrival gap below which the stream is
// treated as a flood. Zero disables gap based levels.
func WithMinGap(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.minGap = d
		}
	}
}

// WithWarmup sets how many samples a stream needs before it can raise the level.
func WithWarmup(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.warmup = n
		}
	}
}

// WithBurst caps admitted events per target inside window. A limit of zero
// disables the guard.
func WithBurst(limit int, window time.Duration) Option {
	return func(c *Controller) {
		if limit >= 0 && window > 0 {
			c.burst = limit
			c.burstWindow = window
		}
	}
}

// WithOutboundInterval sets the base and maximum pacing interval for replies.
func WithOutboundInterval(base, maxInterval time.Duration) Option {
	return func(c *Controller) {
		if base > 0 && maxInterval >= base {
			c.baseInterval = base
			c.maxInterval = maxInterval
		}
	}
}

// WithEstimatorOptions configures the three sample estimators.
func WithEstimatorOptions(opts ...EstimatorOption) Option {
	return func(c *Controller) {
		c.estimatorOpts = append(c.estimatorOpts, opts...)
	}
}

// WithTargetKey sets how events are grouped for the burst guard.
func WithTargetKey(fn func(model.Event) string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.targetKey = fn
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}
