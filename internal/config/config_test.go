package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/parley/internal/config"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/schedule"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Nick, convey.ShouldEqual, "parley")
			convey.So(cfg.CommandPrefix, convey.ShouldEqual, "!")
			convey.So(cfg.Pool.Workers, convey.ShouldEqual, runtime.NumCPU()*4)
			convey.So(cfg.Pool.Overflow, convey.ShouldEqual, "drop")
			convey.So(cfg.Cache.Capacity, convey.ShouldEqual, 4096)
			convey.So(cfg.Admission.Quantile, convey.ShouldEqual, 0.99)
			convey.So(cfg.Admission.DeferTTL, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Transport.Kind, convey.ShouldEqual, "stdio")
			convey.So(cfg.Metrics.Namespace, convey.ShouldEqual, "parley")
			convey.So(cfg.Metrics.System, convey.ShouldBeTrue)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad setting", t, func() {
		cases := map[string]func(*config.Config){
			"empty nick":            func(c *config.Config) { c.Nick = " " },
			"empty prefix":          func(c *config.Config) { c.CommandPrefix = "" },
			"casemapping":           func(c *config.Config) { c.Casemapping = "utf8" },
			"log format":            func(c *config.Config) { c.LogFormat = "xml" },
			"plugin":                func(c *config.Config) { c.Plugins = []string{"ping", "weather"} },
			"cache":                 func(c *config.Config) { c.Cache.Capacity = 0 },
			"quantile":              func(c *config.Config) { c.Admission.Quantile = 0.75 },
			"thresholds":            func(c *config.Config) { c.Admission.High = time.Millisecond },
			"interval":              func(c *config.Config) { c.Admission.MaxInterval = time.Millisecond },
			"tier kind":             func(c *config.Config) { c.Admission.Tiers = map[string]int{"privmsg": 1} },
			"workers":               func(c *config.Config) { c.Pool.Workers = 0 },
			"overflow":              func(c *config.Config) { c.Pool.Overflow = "spill" },
			"websocket without url": func(c *config.Config) { c.Transport.Kind = "websocket" },
			"mqtt without broker":   func(c *config.Config) { c.Transport.Kind = "mqtt" },
			"transport":             func(c *config.Config) { c.Transport.Kind = "irc" },
			"metrics refresh":       func(c *config.Config) { c.Metrics.Refresh = 0 },
			"cron":                  func(c *config.Config) { c.Schedule = []schedule.Entry{{Name: "x", Cron: "nope", Target: "#c"}} },
		}

		for name, mutate := range cases {
			convey.Convey("Then "+name+" is rejected", func() {
				cfg := config.New()
				mutate(cfg)
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})

	convey.Convey("Given tier overrides by kind name", t, func() {
		cfg := config.New()
		cfg.Admission.Tiers = map[string]int{"topic": 0, "message": 4}

		tiers, err := cfg.EventTiers()

		convey.So(err, convey.ShouldBeNil)
		convey.So(tiers[model.KindTopic], convey.ShouldEqual, 0)
		convey.So(tiers[model.KindMessage], convey.ShouldEqual, 4)
	})
}
