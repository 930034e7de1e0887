package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/parley/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given a stdio configuration with a bolt store", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		path := writeConfig(t, `
nick: warden
addr: ""
plugins: [ping, help]
store:
  path: `+filepath.Join(dir, "state.db")+`
`)

		convey.Convey("When checking the configuration", func() {
			out, err := execute(ctx, "", "check", "--config", path)

			convey.Convey("Then it reports a summary", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "ok: nick=warden transport=stdio plugins=2")
			})
		})

		convey.Convey("When listing plugins", func() {
			out, err := execute(ctx, "", "plugins", "-c", path)

			convey.Convey("Then only the configured ones are listed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "NAME")
				convey.So(out, convey.ShouldContainSubstring, "ping")
				convey.So(out, convey.ShouldContainSubstring, "help")
				convey.So(out, convey.ShouldNotContainSubstring, "karma")
			})
		})

		convey.Convey("When running against a finite stdin", func() {
			stdin := `{"kind":"message","source":"alice!a@example.org","target":"#chat","payload":"!ping"}
not json
{"kind":"message","source":"bob","target":"#chat","payload":"hello"}
`
			out, err := execute(ctx, stdin, "run", "--config", path, "--log-level", "error")

			convey.Convey("Then replies are written before it exits", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, `"target":"#chat"`)
				convey.So(out, convey.ShouldContainSubstring, `"text":"pong"`)
				convey.So(strings.Count(out, "\n"), convey.ShouldEqual, 1)
			})
		})
	})

	convey.Convey("Given an invalid configuration", t, func() {
		path := writeConfig(t, "pool:\n  overflow: spill\n")

		convey.Convey("When any command loads it", func() {
			_, err := execute(context.Background(), "", "check", "--config", path)

			convey.Convey("Then the validation error is returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a log format override", t, func() {
		path := writeConfig(t, "addr: \"\"\n")

		convey.Convey("When it is not a known format", func() {
			_, err := execute(context.Background(), "", "check", "--config", path, "--log-format", "xml")

			convey.Convey("Then it is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
