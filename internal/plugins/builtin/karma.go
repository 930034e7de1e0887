package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/okian/parley/internal/adapters/repository"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
)

const (
	karmaBucket  = "karma"
	karmaPattern = `(?:^|\s)([^\s+-][^\s]*?)(\+\+|--)(?:\s|$)`
	defaultTop   = 5
	maxTop       = 10
)

// karma tracks "thing++" and "thing--" votes.
type karma struct {
	store   plugin.Store
	ranking *repository.Ranking
	cm      model.Casemapping

	mu       sync.Mutex
	loadOnce sync.Once
	loadErr  error
}

func newKarma(store plugin.Store, ranking *repository.Ranking, cm model.Casemapping) *karma {
	return &karma{store: store, ranking: ranking, cm: cm}
}

func (k *karma) descriptors(prefix string) []plugin.Descriptor {
	return []plugin.Descriptor{
		{
			Name:       NameKarma + "-vote",
			Capability: plugin.Pattern(karmaPattern),
			Priority:   20,
			Help:       "thing++ or thing-- adjusts karma",
			Handler:    plugin.HandlerFunc(k.vote),
		},
		{
			Name:       NameKarma,
			Capability: plugin.Command(prefix + "karma"),
			Help:       "shows karma: " + prefix + "karma [name]",
			Handler:    plugin.HandlerFunc(k.show),
		},
		{
			Name:       NameKarma + "-top",
			Capability: plugin.Command(prefix + "top"),
			Help:       "shows the karma leaderboard: " + prefix + "top [n]",
			Handler:    plugin.HandlerFunc(k.top),
		},
	}
}

// load fills the ranking from the store once.
func (k *karma) load(ctx context.Context) error {
	k.loadOnce.Do(func() {
		if k.store == nil {
			return
		}
		k.loadErr = k.store.Scan(ctx, karmaBucket, func(key string, value []byte) error {
			n, err := strconv.ParseInt(string(value), 10, 64)
			if err != nil {
				return nil
			}
			k.ranking.Set(key, n)
			return nil
		})
	})
	return k.loadErr
}

func (k *karma) vote(ctx context.Context, inv *plugin.Invocation) error {
	if err := k.load(ctx); err != nil {
		return err
	}
	g := inv.Match.Groups
	if len(g) < 3 {
		return nil
	}
	name := strings.TrimRight(g[1], ":,")
	if name == "" {
		return nil
	}
	if k.cm.Equal(name, inv.Event.Source.Nick) {
		return inv.Reply(ctx, "nice try")
	}
	delta := int64(1)
	if g[2] == "--" {
		delta = -1
	}
	key := k.cm.Fold(name)

	k.mu.Lock()
	defer k.mu.Unlock()
	var n int64
	if k.store != nil {
		var err error
		if n, err = k.store.Incr(ctx, karmaBucket, key, delta); err != nil {
			return err
		}
	} else {
		if e, err := k.ranking.Rank(key); err == nil {
			n = e.Score
		}
		n += delta
	}
	k.ranking.Set(key, n)
	return nil
}

func (k *karma) show(ctx context.Context, inv *plugin.Invocation) error {
	if err := k.load(ctx); err != nil {
		return err
	}
	name := inv.Event.Source.Nick
	if len(inv.Match.Args) > 0 {
		name = inv.Match.Args[0]
	}
	e, err := k.ranking.Rank(k.cm.Fold(name))
	if err != nil {
		return inv.Reply(ctx, fmt.Sprintf("%s has no karma", name))
	}
	return inv.Reply(ctx, fmt.Sprintf("%s has karma %d (rank %d of %d)", name, e.Score, e.Rank, k.ranking.Len()))
}

func (k *karma) top(ctx context.Context, inv *plugin.Invocation) error {
	if err := k.load(ctx); err != nil {
		return err
	}
	n := defaultTop
	if len(inv.Match.Args) > 0 {
		if v, err := strconv.Atoi(inv.Match.Args[0]); err == nil && v > 0 {
			n = min(v, maxTop)
		}
	}
	entries, err := k.ranking.TopN(n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return inv.Reply(ctx, "nobody has karma yet")
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%d. %s (%d)", e.Rank, e.Name, e.Score)
	}
	return inv.Reply(ctx, strings.Join(parts, ", "))
}
