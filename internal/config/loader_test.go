package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/parley/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Nick, convey.ShouldEqual, "parley")
				convey.So(cfg.Pool.QueueDepth, convey.ShouldEqual, 64)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("PARLEY_ADDR", ":8080")
			_ = os.Setenv("PARLEY_NICK", "helper")
			_ = os.Setenv("PARLEY_POOL__WORKERS", "16")
			_ = os.Setenv("PARLEY_POOL__QUEUE_DEPTH", "8")
			_ = os.Setenv("PARLEY_ADMISSION__DEFER_TTL", "5s")
			_ = os.Setenv("PARLEY_ADMISSION__QUANTILE", "0.9")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then nested keys are split on double underscores", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Nick, convey.ShouldEqual, "helper")
				convey.So(cfg.Pool.Workers, convey.ShouldEqual, 16)
				convey.So(cfg.Pool.QueueDepth, convey.ShouldEqual, 8)
				convey.So(cfg.Admission.DeferTTL, convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.Admission.Quantile, convey.ShouldEqual, 0.9)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
nick: warden
admins: ["root", "*!ops@*.example.org"]
plugins: [ping, help, karma]
admission:
  min_gap: 5ms
  tiers:
    topic: 0
pool:
  overflow: block
transport:
  kind: mqtt
  mqtt:
    broker: tcp://localhost:1883
    in_topic: parley/in
    out_topic: parley/out
greet:
  channels: ["#lobby"]
  message: "hi {nick}"
schedule:
  - name: standup
    cron: "0 30 9 * * 1-5 *"
    target: "#team"
    payload: standup
scripts:
  - name: roll
    command: roll
    code: reply("4")
`
			tmpFile := createTempConfigFile(t, yamlContent)

			cfg, err := config.Load(ctx, tmpFile)

			convey.Convey("Then it should load every section from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Nick, convey.ShouldEqual, "warden")
				convey.So(cfg.Admins, convey.ShouldResemble, []string{"root", "*!ops@*.example.org"})
				convey.So(cfg.Plugins, convey.ShouldResemble, []string{"ping", "help", "karma"})
				convey.So(cfg.Admission.MinGap, convey.ShouldEqual, 5*time.Millisecond)
				convey.So(cfg.Admission.Tiers["topic"], convey.ShouldEqual, 0)
				convey.So(cfg.Admission.Burst, convey.ShouldEqual, 20) // default kept
				convey.So(cfg.Pool.Overflow, convey.ShouldEqual, "block")
				convey.So(cfg.Transport.Kind, convey.ShouldEqual, "mqtt")
				convey.So(cfg.Transport.MQTT.OutTopic, convey.ShouldEqual, "parley/out")
				convey.So(cfg.Transport.Buffer, convey.ShouldEqual, 256) // default kept
				convey.So(cfg.Greet.Channels, convey.ShouldResemble, []string{"#lobby"})
				convey.So(len(cfg.Schedule), convey.ShouldEqual, 1)
				convey.So(cfg.Schedule[0].Target, convey.ShouldEqual, "#team")
				convey.So(len(cfg.Scripts), convey.ShouldEqual, 1)
				convey.So(cfg.Scripts[0].Command, convey.ShouldEqual, "roll")
			})
		})

		convey.Convey("When the file comes from PARLEY_CONFIG and env overrides it", func() {
			tmpFile := createTempConfigFile(t, "nick: warden\npool:\n  workers: 3\n  queue_depth: 5\n")
			_ = os.Setenv("PARLEY_CONFIG", tmpFile)
			_ = os.Setenv("PARLEY_POOL__WORKERS", "32")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Nick, convey.ShouldEqual, "warden")    // From file
				convey.So(cfg.Pool.Workers, convey.ShouldEqual, 32)   // Overridden by env
				convey.So(cfg.Pool.QueueDepth, convey.ShouldEqual, 5) // From file
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)

			cfg, err := config.Load(ctx, tmpFile)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			cfg, err := config.Load(ctx, "/non/existent/file.yaml")

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("PARLEY_POOL__WORKERS", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config that fails validation", func() {
			_ = os.Setenv("PARLEY_POOL__OVERFLOW", "spill")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "pool.overflow")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// clearConfigEnvVars removes every PARLEY_ variable a test may have set.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "PARLEY_") {
			_ = os.Unsetenv(name)
		}
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
