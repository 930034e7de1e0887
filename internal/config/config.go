// Package config defines the bot's configuration and how it is loaded.
//
// Conventions:
// - New returns a Config filled with defaults; Load layers a YAML file and
//   environment variables on top.
// - Durations are written as Go duration strings ("250ms", "1m").
// - Errors returned by Validate wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/parley/internal/adapters/transport"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/plugins/builtin"
	"github.com/okian/parley/internal/plugins/script"
	"github.com/okian/parley/internal/schedule"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080". Empty disables
	// the HTTP surface.
	Addr string `koanf:"addr"`

	// Nick is the bot's own nickname at startup.
	Nick string `koanf:"nick"`

	// CommandPrefix introduces commands, e.g. "!" in "!ping".
	CommandPrefix string `koanf:"command_prefix"`

	// Casemapping is rfc1459, strict-rfc1459 or ascii.
	Casemapping string `koanf:"casemapping"`

	// Admins are nick!user@host globs allowed to run admin plugins.
	Admins []string `koanf:"admins"`

	// Plugins names the built-in plugins to enable. Empty enables all.
	Plugins []string `koanf:"plugins"`

	Cache     CacheConfig         `koanf:"cache"`
	Admission AdmissionConfig     `koanf:"admission"`
	Pool      PoolConfig          `koanf:"pool"`
	Sink      SinkConfig          `koanf:"sink"`
	Transport transport.Config    `koanf:"transport"`
	Store     StoreConfig         `koanf:"store"`
	Metrics   MetricsConfig       `koanf:"metrics"`
	Greet     builtin.GreetConfig `koanf:"greet"`
	Schedule  []schedule.Entry    `koanf:"schedule"`

	// ScriptDir resolves relative script file paths.
	ScriptDir string        `koanf:"script_dir"`
	Scripts   []script.Spec `koanf:"scripts"`
}

// CacheConfig sizes the entity cache and the redelivery filter.
type CacheConfig struct {
	Capacity   int `koanf:"capacity"`
	DedupeSize int `koanf:"dedupe_size"`
}

// AdmissionConfig tunes the load-shedding controller.
type AdmissionConfig struct {
	Quantile         float64        `koanf:"quantile"`
	Elevated         time.Duration  `koanf:"elevated"`
	High             time.Duration  `koanf:"high"`
	Critical         time.Duration  `koanf:"critical"`
	MinGap           time.Duration  `koanf:"min_gap"`
	Warmup           int            `koanf:"warmup"`
	Burst            int            `koanf:"burst"`
	BurstWindow      time.Duration  `koanf:"burst_window"`
	Window           time.Duration  `koanf:"window"`
	AgeBuckets       int            `koanf:"age_buckets"`
	Epsilon          float64        `koanf:"epsilon"`
	OutboundInterval time.Duration  `koanf:"outbound_interval"`
	MaxInterval      time.Duration  `koanf:"max_interval"`
	Tiers            map[string]int `koanf:"tiers"`
	DeferDepth       int            `koanf:"defer_depth"`
	DeferTTL         time.Duration  `koanf:"defer_ttl"`
}

// PoolConfig sizes the worker pool and the per-target queues.
type PoolConfig struct {
	Workers           int           `koanf:"workers"`
	UnorderedWorkers  int           `koanf:"unordered_workers"`
	UnorderedCapacity int           `koanf:"unordered_capacity"`
	QueueDepth        int           `koanf:"queue_depth"`
	MaxTargets        int           `koanf:"max_targets"`
	IdleTTL           time.Duration `koanf:"idle_ttl"`
	Timeout           time.Duration `koanf:"timeout"`
	Overflow          string        `koanf:"overflow"`
	OverflowWait      time.Duration `koanf:"overflow_wait"`
	Maintenance       time.Duration `koanf:"maintenance"`
}

// SinkConfig shapes outbound traffic.
type SinkConfig struct {
	QueueDepth  int           `koanf:"queue_depth"`
	MaxLine     int           `koanf:"max_line"`
	Burst       int           `koanf:"burst"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// StoreConfig locates the bolt database. An empty path keeps plugin state
// in memory.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// MetricsConfig shapes the Prometheus series.
type MetricsConfig struct {
	Namespace string            `koanf:"namespace"`
	System    bool              `koanf:"system"` // memory and goroutine gauges
	Refresh   time.Duration     `koanf:"refresh"`
	Labels    map[string]string `koanf:"labels"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		Addr:          ":9080",
		Nick:          "parley",
		CommandPrefix: "!",
		Casemapping:   "rfc1459",
		Cache: CacheConfig{
			Capacity:   4096,
			DedupeSize: 4096,
		},
		Admission: AdmissionConfig{
			Quantile:         0.99,
			Elevated:         250 * time.Millisecond,
			High:             time.Second,
			Critical:         3 * time.Second,
			MinGap:           20 * time.Millisecond,
			Warmup:           50,
			Burst:            20,
			BurstWindow:      10 * time.Second,
			Window:           time.Minute,
			AgeBuckets:       5,
			Epsilon:          0.01,
			OutboundInterval: 500 * time.Millisecond,
			MaxInterval:      4 * time.Second,
			DeferDepth:       16,
			DeferTTL:         30 * time.Second,
		},
		Pool: PoolConfig{
			Workers:           runtime.NumCPU() * 4,
			UnorderedWorkers:  4,
			UnorderedCapacity: 256,
			QueueDepth:        64,
			MaxTargets:        1024,
			IdleTTL:           time.Minute,
			Timeout:           5 * time.Second,
			Overflow:          "drop",
			OverflowWait:      250 * time.Millisecond,
			Maintenance:       time.Second,
		},
		Sink: SinkConfig{
			QueueDepth:  64,
			MaxLine:     400,
			Burst:       4,
			IdleTimeout: 30 * time.Second,
		},
		Transport: transport.Config{
			Kind:      "stdio",
			Buffer:    256,
			InTimeout: time.Second,
		},
		Metrics: MetricsConfig{
			Namespace: "parley",
			System:    true,
			Refresh:   10 * time.Second,
		},
		ScriptDir: ".",
	}
}

// EventTiers converts the tier overrides to event kinds.
func (c *Config) EventTiers() (map[model.EventKind]int, error) {
	out := make(map[model.EventKind]int, len(c.Admission.Tiers))
	for name, tier := range c.Admission.Tiers {
		kind, err := model.ParseEventKind(name)
		if err != nil {
			return nil, fmt.Errorf("%w: admission.tiers: %w", ErrInvalidConfig, err)
		}
		out[kind] = tier
	}
	return out, nil
}

// Validate reports the first setting the bot cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("log_format %q", c.LogFormat)
	}
	if strings.TrimSpace(c.Nick) == "" {
		return invalid("nick must not be empty")
	}
	if c.CommandPrefix == "" {
		return invalid("command_prefix must not be empty")
	}
	if _, err := model.ParseCasemapping(c.Casemapping); err != nil {
		return invalid("%v", err)
	}
	for _, name := range c.Plugins {
		if !builtin.Known(name) {
			return invalid("unknown plugin %q", name)
		}
	}
	if c.Cache.Capacity <= 0 {
		return invalid("cache.capacity must be positive")
	}

	a := c.Admission
	switch a.Quantile {
	case 0.5, 0.9, 0.99:
	default:
		return invalid("admission.quantile must be 0.5, 0.9 or 0.99")
	}
	if a.Elevated <= 0 || a.High < a.Elevated || a.Critical < a.High {
		return invalid("admission thresholds must be positive and ascending")
	}
	if a.Burst < 0 || a.Warmup < 0 || a.MinGap < 0 {
		return invalid("admission.burst, warmup and min_gap must not be negative")
	}
	if a.OutboundInterval <= 0 || a.MaxInterval < a.OutboundInterval {
		return invalid("admission.max_interval must be at least outbound_interval")
	}
	if a.DeferDepth < 0 {
		return invalid("admission.defer_depth must not be negative")
	}
	if _, err := c.EventTiers(); err != nil {
		return err
	}

	p := c.Pool
	if p.Workers <= 0 || p.QueueDepth <= 0 || p.MaxTargets <= 0 {
		return invalid("pool.workers, queue_depth and max_targets must be positive")
	}
	switch p.Overflow {
	case "", "drop", "block":
	default:
		return invalid("pool.overflow %q", p.Overflow)
	}

	switch c.Transport.Kind {
	case "", "stdio":
	case "websocket", "ws":
		if c.Transport.URL == "" {
			return invalid("transport.url is required for %s", c.Transport.Kind)
		}
	case "mqtt":
		if c.Transport.MQTT.Broker == "" {
			return invalid("transport.mqtt.broker is required")
		}
	default:
		return invalid("transport.kind %q", c.Transport.Kind)
	}

	if c.Metrics.System && c.Metrics.Refresh <= 0 {
		return invalid("metrics.refresh must be positive")
	}

	if _, err := schedule.New(c.Schedule); err != nil {
		return invalid("%v", err)
	}
	seen := make(map[string]bool, len(c.Scripts))
	for _, s := range c.Scripts {
		if s.Name == "" {
			return invalid("script without name")
		}
		if seen[s.Name] {
			return invalid("duplicate script %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
