package builtin_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/parley/internal/adapters/repository"
	"github.com/okian/parley/internal/domain/cache"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
	"github.com/okian/parley/internal/plugins/builtin"
	"github.com/okian/parley/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type outbox struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (o *outbox) Submit(_ context.Context, m model.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.msgs))
	for i, m := range o.msgs {
		out[i] = m.Text
	}
	o.msgs = nil
	return out
}

type entities struct {
	c  *cache.Cache
	cm model.Casemapping
}

func (e entities) Lookup(ctx context.Context, name string) (cache.Record, bool) {
	return e.c.Get(ctx, e.cm.Key(name))
}

func (e entities) Annotate(ctx context.Context, name string, fn func(*cache.Record)) (cache.Record, error) {
	return e.c.Update(ctx, e.cm.Key(name), fn)
}

type harness struct {
	reg  *plugin.Registry
	out  *outbox
	ents entities
	now  time.Time
}

func newHarness(store plugin.Store) *harness {
	_ = logger.Init()
	h := &harness{
		reg:  plugin.NewRegistry(plugin.WithNick("parley")),
		out:  &outbox{},
		ents: entities{c: cache.New(cache.WithCapacity(16))},
		now:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	err := builtin.Register(builtin.Deps{
		Registry: h.reg,
		Store:    store,
		Greet:    builtin.GreetConfig{Channels: []string{"#Chat"}},
	})
	So(err, ShouldBeNil)
	return h
}

// send resolves ev and runs every match in order, the way the dispatcher
// would for a single target.
func (h *harness) send(kind model.EventKind, nick, target, payload string) []string {
	ctx := context.Background()
	ev := model.Event{Kind: kind, Source: model.Prefix{Nick: nick}, Target: target, Payload: payload, TS: h.now}
	for _, m := range h.reg.Resolve(ev) {
		inv := &plugin.Invocation{Event: ev, Match: m, Entities: h.ents, Out: h.out, Log: logger.Get()}
		So(m.Descriptor.Handler.Handle(ctx, inv), ShouldBeNil)
	}
	return h.out.texts()
}

func TestBuiltins(t *testing.T) {
	Convey("Given the built-in plugins without a store", t, func() {
		h := newHarness(nil)

		Convey("When someone pings", func() {
			So(h.send(model.KindMessage, "alice", "#chat", "!ping"), ShouldResemble, []string{"pong"})
		})

		Convey("When help is requested", func() {
			out := h.send(model.KindMessage, "alice", "#chat", "!help")
			So(len(out), ShouldEqual, 1)
			So(out[0], ShouldContainSubstring, "!ping")
			So(out[0], ShouldContainSubstring, "!seen")

			Convey("Then a single command can be described", func() {
				So(h.send(model.KindMessage, "alice", "#chat", "!help ping"), ShouldResemble, []string{"alice: ping: replies with pong"})
				So(h.send(model.KindMessage, "alice", "#chat", "!help nope"), ShouldResemble, []string{"alice: no such command: nope"})
			})
		})

		Convey("When karma is given and taken", func() {
			h.send(model.KindMessage, "alice", "#chat", "gopher++ nice")
			h.send(model.KindMessage, "bob", "#chat", "gopher++")
			h.send(model.KindMessage, "bob", "#chat", "ferris--")

			Convey("Then scores and ranks are reported", func() {
				So(h.send(model.KindMessage, "carol", "#chat", "!karma Gopher"), ShouldResemble, []string{"carol: Gopher has karma 2 (rank 1 of 2)"})
				So(h.send(model.KindMessage, "carol", "#chat", "!top"), ShouldResemble, []string{"carol: 1. gopher (2), 2. ferris (-1)"})
			})

			Convey("Then self votes are refused", func() {
				So(h.send(model.KindMessage, "alice", "#chat", "alice++"), ShouldResemble, []string{"alice: nice try"})
			})
		})

		Convey("When someone spoke earlier", func() {
			h.send(model.KindMessage, "bob", "#chat", "brb")
			h.now = h.now.Add(90 * time.Second)

			Convey("Then seen reports the last line", func() {
				So(h.send(model.KindMessage, "alice", "#chat", "!seen bob"), ShouldResemble,
					[]string{"alice: bob was last seen in #chat 1m30s ago saying: brb"})
				So(h.send(model.KindMessage, "alice", "#chat", "!seen zed"), ShouldResemble, []string{"alice: I haven't seen zed"})
			})
		})

		Convey("When a user is only known to the cache", func() {
			_, err := h.ents.Annotate(context.Background(), "dave", func(r *cache.Record) { r.LastSeen = h.now.Add(-time.Minute) })
			So(err, ShouldBeNil)
			So(h.send(model.KindMessage, "alice", "#chat", "!seen dave"), ShouldResemble, []string{"alice: dave was last active 1m0s ago"})
		})

		Convey("When users join", func() {
			So(h.send(model.KindJoin, "erin", "#chat", ""), ShouldResemble, []string{"welcome to #chat, erin!"})
			So(h.send(model.KindJoin, "parley", "#chat", ""), ShouldBeEmpty)
			So(h.send(model.KindJoin, "erin", "#elsewhere", ""), ShouldBeEmpty)
		})

		Convey("When a tick carries an announcement", func() {
			So(h.send(model.KindTick, "", "#chat", "standup in 5"), ShouldResemble, []string{"standup in 5"})
		})

		Convey("When an admin disables ping", func() {
			So(h.send(model.KindMessage, "root", "#chat", "!disable ping"), ShouldResemble, []string{"root: disabled ping"})

			Convey("Then ping no longer answers until re-enabled", func() {
				So(h.send(model.KindMessage, "alice", "#chat", "!ping"), ShouldBeEmpty)
				So(h.send(model.KindMessage, "root", "#chat", "!enable ping"), ShouldResemble, []string{"root: enabled ping"})
				So(h.send(model.KindMessage, "alice", "#chat", "!ping"), ShouldResemble, []string{"pong"})
			})

			Convey("Then unknown plugins are reported", func() {
				So(h.send(model.KindMessage, "root", "#chat", "!disable nope"), ShouldResemble, []string{"root: no such plugin: nope"})
			})
		})
	})

	Convey("Given the built-in plugins backed by bolt", t, func() {
		ctx := context.Background()
		_ = logger.Init()
		store := repository.NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
		So(store.Open(ctx), ShouldBeNil)
		defer func() { _ = store.Close() }()
		So(store.Put(ctx, "karma", "gopher", []byte("41")), ShouldBeNil)
		h := newHarness(store)

		Convey("When karma is given", func() {
			h.send(model.KindMessage, "alice", "#chat", "gopher++")

			Convey("Then stored counters are continued and persisted", func() {
				v, err := store.Get(ctx, "karma", "gopher")
				So(err, ShouldBeNil)
				So(string(v), ShouldEqual, "42")
				So(h.send(model.KindMessage, "alice", "#chat", "!karma gopher"), ShouldResemble, []string{"alice: gopher has karma 42 (rank 1 of 1)"})
			})
		})

		Convey("When someone speaks", func() {
			h.send(model.KindMessage, "Bob", "#chat", "hello")

			Convey("Then the sighting is stored under the folded nick", func() {
				_, err := store.Get(ctx, "seen", "bob")
				So(err, ShouldBeNil)
			})
		})
	})

	Convey("Given an unknown plugin name", t, func() {
		_ = logger.Init()
		err := builtin.Register(builtin.Deps{Registry: plugin.NewRegistry()}, "nope")
		So(errors.Is(err, builtin.ErrUnknownPlugin), ShouldBeTrue)
		So(errors.Is(builtin.Register(builtin.Deps{}), builtin.ErrNoRegistry), ShouldBeTrue)
	})
}
