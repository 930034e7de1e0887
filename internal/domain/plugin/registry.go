package plugin

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/okian/parley/internal/domain/model"
)

// Match is one resolved plugin for an event.
type Match struct {
	Descriptor Descriptor
	Command    string   // folded command token, command capability only
	Text       string   // text after the command token, or the whole payload
	Args       []string // Text split on whitespace
	Groups     []string // regexp submatches, pattern capability only
	Addressed  bool     // the message was addressed to the bot by nick
}

type entry struct {
	d       Descriptor
	c       compiled
	seq     uint64
	enabled atomic.Bool
}

// Registry holds registered plugins in resolution order. Reads never block
// on each other; Register and Unregister publish a new slice.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry
	seq     uint64

	prefix string
	nick   string
	cm     model.Casemapping
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byName: make(map[string]*entry),
		prefix: "!",
		cm:     model.RFC1459,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds d. It fails with ErrDuplicateName when the name is taken
// and ErrInvalidCapability when the capability does not validate.
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCapability)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidCapability, d.Name)
	}
	c, err := compile(d.Capability, r.cm.Fold)
	if err != nil {
		return fmt.Errorf("register %s: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
	}
	r.seq++
	e := &entry{d: d, c: c, seq: r.seq}
	e.enabled.Store(true)

	// Entries stay sorted by priority then registration order, so the new
	// entry goes after every entry with priority <= its own.
	i, _ := slices.BinarySearchFunc(r.entries, d.Priority+1, func(x *entry, p int) int {
		if x.d.Priority < p {
			return -1
		}
		return 1
	})
	next := make([]*entry, 0, len(r.entries)+1)
	next = append(next, r.entries[:i]...)
	next = append(next, e)
	next = append(next, r.entries[i:]...)
	r.entries = next
	r.byName[d.Name] = e
	return nil
}

// Unregister removes the named plugin.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.byName, name)
	r.entries = slices.DeleteFunc(slices.Clone(r.entries), func(x *entry) bool { return x == e })
	return nil
}

// SetEnabled toggles whether the named plugin takes part in resolution.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.enabled.Store(enabled)
	return nil
}

// SetNick updates the bot's nick after a nick change.
func (r *Registry) SetNick(nick string) {
	r.mu.Lock()
	r.nick = nick
	r.mu.Unlock()
}

// Nick returns the bot's current nick.
func (r *Registry) Nick() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nick
}

// Prefix returns the command prefix.
func (r *Registry) Prefix() string { return r.prefix }

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lookup returns the named descriptor.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.d, true
}

// Descriptors lists every plugin in resolution order.
func (r *Registry) Descriptors() []Info {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	out := make([]Info, len(entries))
	for i, e := range entries {
		out[i] = Info{
			Name:        e.d.Name,
			Capability:  e.d.Capability.String(),
			Priority:    e.d.Priority,
			Concurrency: e.d.Concurrency.String(),
			Auth:        e.d.Auth.String(),
			Help:        e.d.Help,
			Enabled:     e.enabled.Load(),
		}
		if e.d.Timeout > 0 {
			out[i].Timeout = e.d.Timeout.String()
		}
	}
	return out
}

// Resolve returns every enabled plugin matching ev, ordered by ascending
// priority and then registration order.
func (r *Registry) Resolve(ev model.Event) []Match {
	r.mu.RLock()
	entries := r.entries
	nick := r.nick
	r.mu.RUnlock()

	var (
		parsed    bool
		token     string
		rest      string
		addressed bool
		matches   []Match
	)
	for _, e := range entries {
		if !e.enabled.Load() {
			continue
		}
		switch e.c.kind {
		case CapCommand:
			if ev.Kind != model.KindMessage {
				continue
			}
			if !parsed {
				token, rest, addressed = r.parseCommand(ev, nick)
				parsed = true
			}
			if token == "" || token != e.c.token {
				continue
			}
			matches = append(matches, Match{
				Descriptor: e.d,
				Command:    token,
				Text:       rest,
				Args:       strings.Fields(rest),
				Addressed:  addressed,
			})
		case CapPattern:
			if ev.Kind != model.KindMessage {
				continue
			}
			groups := e.c.re.FindStringSubmatch(ev.Payload)
			if groups == nil {
				continue
			}
			matches = append(matches, Match{
				Descriptor: e.d,
				Text:       ev.Payload,
				Args:       strings.Fields(ev.Payload),
				Groups:     groups,
			})
		case CapObserver:
			if e.c.kinds&(1<<ev.Kind) == 0 {
				continue
			}
			matches = append(matches, Match{
				Descriptor: e.d,
				Text:       ev.Payload,
				Args:       strings.Fields(ev.Payload),
			})
		}
	}
	return matches
}

// parseCommand extracts the folded command token of a message. A message
// addressed to the bot ("nick: ping" or "nick, ping") and any direct
// message may omit the prefix.
func (r *Registry) parseCommand(ev model.Event, nick string) (token, rest string, addressed bool) {
	text := strings.TrimSpace(ev.Payload)
	if nick != "" && len(text) > len(nick) && r.cm.Equal(text[:len(nick)], nick) {
		if c := text[len(nick)]; c == ':' || c == ',' {
			addressed = true
			text = strings.TrimSpace(text[len(nick)+1:])
		}
	}
	if text == "" {
		return "", "", addressed
	}
	token, rest, _ = strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	if (addressed || ev.IsDirect()) && !strings.HasPrefix(token, r.prefix) {
		token = r.prefix + token
	}
	return r.cm.Fold(token), rest, addressed
}
