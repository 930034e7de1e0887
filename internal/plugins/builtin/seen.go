package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/parley/internal/adapters/repository"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
)

const seenBucket = "seen"

type sighting struct {
	At    time.Time `json:"at"`
	Where string    `json:"where"`
	Text  string    `json:"text"`
}

// seen remembers the last line of every speaker and answers "seen" queries.
type seen struct {
	store plugin.Store
	cm    model.Casemapping

	mu  sync.Mutex
	mem map[string]sighting // used when there is no store
}

func newSeen(store plugin.Store, cm model.Casemapping) *seen {
	return &seen{store: store, cm: cm, mem: make(map[string]sighting)}
}

func (s *seen) descriptors(prefix string) []plugin.Descriptor {
	return []plugin.Descriptor{
		{
			Name:        NameSeen + "-recorder",
			Capability:  plugin.Observer(model.KindMessage),
			Priority:    100,
			Concurrency: plugin.Independent,
			Help:        "remembers the last line of every speaker",
			Handler:     plugin.HandlerFunc(s.record),
		},
		{
			Name:       NameSeen,
			Capability: plugin.Command(prefix + "seen"),
			Help:       "tells when a nick last spoke: " + prefix + "seen <nick>",
			Handler:    plugin.HandlerFunc(s.query),
		},
	}
}

func (s *seen) record(ctx context.Context, inv *plugin.Invocation) error {
	ev := inv.Event
	if ev.Source.Nick == "" || !ev.IsChannel() {
		return nil
	}
	sg := sighting{At: ev.TS, Where: ev.Target, Text: ev.Payload}
	key := s.cm.Fold(ev.Source.Nick)
	if s.store == nil {
		s.mu.Lock()
		s.mem[key] = sg
		s.mu.Unlock()
		return nil
	}
	b, err := json.Marshal(sg)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, seenBucket, key, b)
}

func (s *seen) lookup(ctx context.Context, key string) (sighting, bool, error) {
	if s.store == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		sg, ok := s.mem[key]
		return sg, ok, nil
	}
	b, err := s.store.Get(ctx, seenBucket, key)
	if errors.Is(err, repository.ErrNotFound) {
		return sighting{}, false, nil
	}
	if err != nil {
		return sighting{}, false, err
	}
	var sg sighting
	if err := json.Unmarshal(b, &sg); err != nil {
		return sighting{}, false, err
	}
	return sg, true, nil
}

func (s *seen) query(ctx context.Context, inv *plugin.Invocation) error {
	if len(inv.Match.Args) == 0 {
		return inv.Reply(ctx, "seen whom?")
	}
	who := strings.TrimRight(inv.Match.Args[0], ":,?")
	if s.cm.Equal(who, inv.Event.Source.Nick) {
		return inv.Reply(ctx, "you're right here")
	}
	now := inv.Event.TS
	if now.IsZero() {
		now = time.Now()
	}

	var (
		active time.Time
		online bool
	)
	if inv.Entities != nil {
		if rec, ok := inv.Entities.Lookup(ctx, who); ok {
			active = rec.LastSeen
			online = true
		}
	}
	sg, ok, err := s.lookup(ctx, s.cm.Fold(who))
	if err != nil {
		return err
	}

	switch {
	case ok:
		return inv.Reply(ctx, fmt.Sprintf("%s was last seen in %s %s ago saying: %s", who, sg.Where, ago(now, sg.At), sg.Text))
	case online && !active.IsZero():
		return inv.Reply(ctx, fmt.Sprintf("%s was last active %s ago", who, ago(now, active)))
	default:
		return inv.Reply(ctx, fmt.Sprintf("I haven't seen %s", who))
	}
}

func ago(now, then time.Time) string {
	d := now.Sub(then).Round(time.Second)
	if d < time.Second {
		return "moments"
	}
	return d.String()
}
