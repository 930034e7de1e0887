package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/okian/parley/internal/domain/cache"
	"github.com/okian/parley/internal/domain/model"
)

// Cache attributes maintained by the dispatcher.
const (
	AttrMask    = "mask"
	AttrTopic   = "topic"
	AttrTopicBy = "topic_by"
	AttrKickBy  = "kicked_by"
)

// entities is the plugin view of the cache.
type entities struct {
	cache *cache.Cache
	cm    model.Casemapping
}

func (e entities) Lookup(ctx context.Context, name string) (cache.Record, bool) {
	return e.cache.Get(ctx, e.cm.Key(name))
}

func (e entities) Annotate(ctx context.Context, name string, fn func(*cache.Record)) (cache.Record, error) {
	return e.cache.Update(ctx, e.cm.Key(name), fn)
}

// masks is a compiled list of nick!user@host globs.
type masks []*regexp.Regexp

// compileMasks turns globs into anchored expressions. A glob without '!'
// or '@' is a nick glob and matches any user and host.
func compileMasks(cm model.Casemapping, globs []string) (masks, error) {
	out := make(masks, 0, len(globs))
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !strings.ContainsAny(g, "!@") {
			g += "!*@*"
		}
		var b strings.Builder
		b.WriteByte('^')
		for _, r := range cm.Fold(g) {
			switch r {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteByte('.')
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		b.WriteByte('$')
		re, err := regexp.Compile(b.String())
		if err != nil {
			return nil, fmt.Errorf("admin mask %q: %w", g, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (m masks) match(cm model.Casemapping, p model.Prefix) bool {
	if len(m) == 0 || p.Nick == "" {
		return false
	}
	full := cm.Fold(p.Nick + "!" + p.User + "@" + p.Host)
	for _, re := range m {
		if re.MatchString(full) {
			return true
		}
	}
	return false
}

// updateCache applies what ev says about users and channels before any
// plugin sees it.
func (d *dispatcher) updateCache(ctx context.Context, ev model.Event) error {
	src := ev.Source.Nick
	isBot := src != "" && d.cm.Equal(src, d.registry.Nick())
	admin := d.admins.match(d.cm, ev.Source)

	user := func(fn func(*cache.Record)) error {
		if src == "" {
			return nil
		}
		_, err := d.cache.Update(ctx, d.cm.Key(src), func(r *cache.Record) {
			r.LastSeen = ev.TS
			if ev.Source.User != "" || ev.Source.Host != "" {
				r.SetAttr(AttrMask, ev.Source.String())
			}
			setFlag(r, cache.FlagAdmin, admin)
			if isBot {
				r.Flags |= cache.FlagBot
			}
			if fn != nil {
				fn(r)
			}
		})
		return err
	}
	channel := func(fn func(*cache.Record)) error {
		if !ev.IsChannel() {
			return nil
		}
		_, err := d.cache.Update(ctx, d.cm.Key(ev.Target), func(r *cache.Record) {
			r.LastSeen = ev.TS
			if fn != nil {
				fn(r)
			}
		})
		return err
	}

	switch ev.Kind {
	case model.KindMessage, model.KindNotice:
		return errors.Join(user(nil), channel(nil))

	case model.KindJoin:
		return errors.Join(user(nil), channel(func(r *cache.Record) {
			if isBot {
				r.Flags |= cache.FlagJoined
			}
		}))

	case model.KindPart:
		return errors.Join(
			user(func(r *cache.Record) { r.Flags &^= cache.FlagOperator | cache.FlagVoice }),
			channel(func(r *cache.Record) {
				if isBot {
					r.Flags &^= cache.FlagJoined
				}
			}),
		)

	case model.KindQuit:
		if src != "" {
			d.cache.Remove(ctx, d.cm.Key(src))
		}
		return nil

	case model.KindNick:
		to := strings.TrimSpace(ev.Payload)
		if src == "" || to == "" {
			return nil
		}
		d.cache.Rename(ctx, d.cm.Key(src), d.cm.Key(to))
		if isBot {
			d.registry.SetNick(to)
		}
		_, err := d.cache.Update(ctx, d.cm.Key(to), func(r *cache.Record) {
			r.LastSeen = ev.TS
			if isBot {
				r.Flags |= cache.FlagBot
			}
		})
		return err

	case model.KindTopic:
		return errors.Join(user(nil), channel(func(r *cache.Record) {
			r.SetAttr(AttrTopic, ev.Payload)
			r.SetAttr(AttrTopicBy, src)
		}))

	case model.KindMode:
		err := errors.Join(user(nil), channel(nil))
		if ev.IsChannel() {
			err = errors.Join(err, d.applyModes(ctx, ev.Payload))
		}
		return err

	case model.KindKick:
		victim, _, _ := strings.Cut(strings.TrimSpace(ev.Payload), " ")
		if victim == "" {
			return user(nil)
		}
		victimIsBot := d.cm.Equal(victim, d.registry.Nick())
		_, verr := d.cache.Update(ctx, d.cm.Key(victim), func(r *cache.Record) {
			r.Flags &^= cache.FlagOperator | cache.FlagVoice
			r.SetAttr(AttrKickBy, src)
		})
		return errors.Join(user(nil), verr, channel(func(r *cache.Record) {
			if victimIsBot {
				r.Flags &^= cache.FlagJoined
			}
		}))
	}
	return nil
}

// applyModes toggles operator and voice from a channel mode string such
// as "+ov-v alice bob carol". Other argument-taking modes consume their
// argument and are otherwise ignored.
func (d *dispatcher) applyModes(ctx context.Context, payload string) error {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	adding := true
	var errs []error
	for _, c := range fields[0] {
		switch c {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'o', 'v':
			if len(args) == 0 {
				continue
			}
			nick := args[0]
			args = args[1:]
			flag := cache.FlagOperator
			if c == 'v' {
				flag = cache.FlagVoice
			}
			_, err := d.cache.Update(ctx, d.cm.Key(nick), func(r *cache.Record) { setFlag(r, flag, adding) })
			errs = append(errs, err)
		default:
			if modeTakesArg(c, adding) && len(args) > 0 {
				args = args[1:]
			}
		}
	}
	return errors.Join(errs...)
}

func modeTakesArg(c rune, adding bool) bool {
	if strings.ContainsRune("beIkhq", c) {
		return true
	}
	return c == 'l' && adding
}

func setFlag(r *cache.Record, f cache.Flags, on bool) {
	if on {
		r.Flags |= f
	} else {
		r.Flags &^= f
	}
}

// validate checks the fields the dispatcher relies on.
func validate(ev model.Event) error {
	if ev.Kind.String() == "unknown" {
		return fmt.Errorf("%w: kind %d", ErrInvalidEvent, ev.Kind)
	}
	if ev.Kind != model.KindTick && ev.Source.Nick == "" {
		return fmt.Errorf("%w: %s event without source", ErrInvalidEvent, ev.Kind)
	}
	switch ev.Kind {
	case model.KindMessage, model.KindNotice, model.KindJoin, model.KindPart,
		model.KindTopic, model.KindKick, model.KindMode, model.KindTick:
		if ev.Target == "" {
			return fmt.Errorf("%w: %s event without target", ErrInvalidEvent, ev.Kind)
		}
	}
	switch ev.Kind {
	case model.KindNick, model.KindKick:
		if strings.TrimSpace(ev.Payload) == "" {
			return fmt.Errorf("%w: %s event without payload", ErrInvalidEvent, ev.Kind)
		}
	}
	return nil
}
