// Package script loads JavaScript plugins.
//
// A script is compiled once when it is loaded. Every invocation gets a
// fresh runtime, so scripts share no state and may run concurrently. The
// runtime is interrupted when the invocation's context is done.
//
// Scripts see these globals:
//
//	event                 {id, kind, nick, user, host, target, payload, ts}
//	args, groups, text    the parsed match
//	reply(s) say(s) notice(s) act(s) sayTo(target, s)
//	lookup(name)          cached entity or null
//	log(x)                logs x as JSON
//	cronNext(expr)        next time for a cron expression, RFC 3339
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
	"github.com/okian/parley/pkg/logger"
)

const interruptedMessage = "RuntimeError: timeout"

// Spec declares one script plugin. Exactly one of Command, Pattern or
// Observe selects the trigger; Observe may be empty only when All is set.
type Spec struct {
	Name        string        `koanf:"name"`
	Command     string        `koanf:"command"`
	Pattern     string        `koanf:"pattern"`
	Observe     []string      `koanf:"observe"`
	All         bool          `koanf:"all"`
	Priority    int           `koanf:"priority"`
	Independent bool          `koanf:"independent"`
	Admin       bool          `koanf:"admin"`
	Timeout     time.Duration `koanf:"timeout"`
	Help        string        `koanf:"help"`
	Code        string        `koanf:"code"`
	File        string        `koanf:"file"`
}

// Loader turns script specs into plugin descriptors.
type Loader struct {
	dir    string
	prefix string
	logger logger.Logger
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		dir:    ".",
		prefix: "!",
		logger: logger.Get().Named("script"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load compiles spec and returns its descriptor.
func (l *Loader) Load(spec Spec) (plugin.Descriptor, error) {
	capability, err := l.capability(spec)
	if err != nil {
		return plugin.Descriptor{}, err
	}
	code := spec.Code
	if code == "" && spec.File != "" {
		path := spec.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.dir, path)
		}
		bs, err := os.ReadFile(path)
		if err != nil {
			return plugin.Descriptor{}, fmt.Errorf("script %s: %w", spec.Name, err)
		}
		code = string(bs)
	}
	prog, err := goja.Compile(spec.Name, wrapSrc(code), true)
	if err != nil {
		return plugin.Descriptor{}, fmt.Errorf("%w: %s: %v", ErrCompile, spec.Name, err)
	}

	d := plugin.Descriptor{
		Name:       spec.Name,
		Capability: capability,
		Priority:   spec.Priority,
		Timeout:    spec.Timeout,
		Help:       spec.Help,
		Handler:    &handler{prog: prog, log: l.logger.Named(spec.Name)},
	}
	if spec.Independent {
		d.Concurrency = plugin.Independent
	}
	if spec.Admin {
		d.Auth = plugin.Admin
	}
	return d, nil
}

func (l *Loader) capability(spec Spec) (plugin.Capability, error) {
	switch {
	case spec.Command != "":
		token := spec.Command
		if !strings.HasPrefix(token, l.prefix) {
			token = l.prefix + token
		}
		return plugin.Command(token), nil
	case spec.Pattern != "":
		return plugin.Pattern(spec.Pattern), nil
	case len(spec.Observe) > 0 || spec.All:
		kinds := make([]model.EventKind, 0, len(spec.Observe))
		for _, s := range spec.Observe {
			k, err := model.ParseEventKind(s)
			if err != nil {
				return plugin.Capability{}, fmt.Errorf("script %s: %w", spec.Name, err)
			}
			kinds = append(kinds, k)
		}
		return plugin.Observer(kinds...), nil
	default:
		return plugin.Capability{}, fmt.Errorf("%w: %s", ErrNoTrigger, spec.Name)
	}
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

type handler struct {
	prog *goja.Program
	log  logger.Logger
}

// Handle runs the script in a fresh runtime.
func (h *handler) Handle(ctx context.Context, inv *plugin.Invocation) error {
	rt := goja.New()
	if err := h.bind(ctx, rt, inv); err != nil {
		return err
	}

	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		rt.Interrupt(interruptedMessage)
	}()
	_, err := rt.RunProgram(h.prog)
	cancel()

	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w: %w", plugin.ErrTimeout, ErrInterrupted, ctx.Err())
		}
		return ErrInterrupted
	}
	return fmt.Errorf("%w: %v", ErrThrown, err)
}

func (h *handler) bind(ctx context.Context, rt *goja.Runtime, inv *plugin.Invocation) error {
	ev := inv.Event
	throw := func(err error) {
		if err != nil {
			panic(rt.NewGoError(err))
		}
	}
	args := make([]interface{}, len(inv.Match.Args))
	for i, a := range inv.Match.Args {
		args[i] = a
	}
	groups := make([]interface{}, len(inv.Match.Groups))
	for i, g := range inv.Match.Groups {
		groups[i] = g
	}

	globals := map[string]interface{}{
		"event": map[string]interface{}{
			"id":      ev.ID,
			"kind":    ev.Kind.String(),
			"nick":    ev.Source.Nick,
			"user":    ev.Source.User,
			"host":    ev.Source.Host,
			"target":  ev.Target,
			"payload": ev.Payload,
			"ts":      ev.TS.UTC().Format(time.RFC3339Nano),
		},
		"args":   args,
		"groups": groups,
		"text":   inv.Match.Text,
		"reply":  func(s string) { throw(inv.Reply(ctx, s)) },
		"say":    func(s string) { throw(inv.Say(ctx, s)) },
		"notice": func(s string) { throw(inv.Notice(ctx, s)) },
		"act":    func(s string) { throw(inv.Act(ctx, s)) },
		"sayTo":  func(target, s string) { throw(inv.SayTo(ctx, target, s)) },
		"lookup": func(name string) interface{} {
			if inv.Entities == nil {
				return nil
			}
			rec, ok := inv.Entities.Lookup(ctx, name)
			if !ok {
				return nil
			}
			flags := make([]interface{}, 0)
			for _, f := range rec.Flags.Names() {
				flags = append(flags, f)
			}
			attrs := make(map[string]interface{}, len(rec.Attrs))
			for k, v := range rec.Attrs {
				attrs[k] = v
			}
			return map[string]interface{}{
				"key":      rec.Key.String(),
				"lastSeen": rec.LastSeen.UTC().Format(time.RFC3339Nano),
				"flags":    flags,
				"attrs":    attrs,
			}
		},
		"log": func(x goja.Value) {
			var v interface{}
			if x != nil {
				v = x.Export()
			}
			js, err := json.Marshal(v)
			if err != nil {
				h.log.Warn(ctx, "script log", logger.String("error", err.Error()))
				return
			}
			h.log.Info(ctx, "script log", logger.String("value", string(js)), logger.String("event_id", ev.ID))
		},
		"cronNext": func(expr string) string {
			c, err := cronexpr.Parse(expr)
			throw(err)
			return c.Next(time.Now()).UTC().Format(time.RFC3339)
		},
	}
	for name, v := range globals {
		if err := rt.Set(name, v); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}
