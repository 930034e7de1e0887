// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind identifies the kind of protocol occurrence.
type EventKind uint8

// Event kinds. The set is closed; transports reject anything else.
const (
	KindMessage EventKind = iota
	KindNotice
	KindJoin
	KindPart
	KindQuit
	KindNick
	KindTopic
	KindKick
	KindMode
	KindTick // synthetic, emitted by the scheduler
)

var kindNames = [...]string{
	KindMessage: "message",
	KindNotice:  "notice",
	KindJoin:    "join",
	KindPart:    "part",
	KindQuit:    "quit",
	KindNick:    "nick",
	KindTopic:   "topic",
	KindKick:    "kick",
	KindMode:    "mode",
	KindTick:    "tick",
}

// AllKinds returns every event kind in declaration order.
func AllKinds() []EventKind {
	kinds := make([]EventKind, len(kindNames))
	for i := range kindNames {
		kinds[i] = EventKind(i)
	}
	return kinds
}

// String returns the lowercase name of the kind.
// Unrecognized kinds return "unknown".
func (k EventKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseEventKind maps a kind name (case-insensitive) to its EventKind.
func ParseEventKind(s string) (EventKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if n == name {
			return EventKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	parsed, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Prefix is the origin of an event: nick!user@host.
type Prefix struct {
	Nick string
	User string
	Host string
}

// ParsePrefix splits nick!user@host. Missing parts are left empty, so a
// bare server name or nick parses into Nick only.
func ParsePrefix(s string) Prefix {
	var p Prefix
	rest := s
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		p.Host = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		p.User = rest[i+1:]
		rest = rest[:i]
	}
	p.Nick = rest
	return p
}

// String renders the prefix back to nick!user@host form.
func (p Prefix) String() string {
	var b strings.Builder
	b.WriteString(p.Nick)
	if p.User != "" {
		b.WriteByte('!')
		b.WriteString(p.User)
	}
	if p.Host != "" {
		b.WriteByte('@')
		b.WriteString(p.Host)
	}
	return b.String()
}

// Event is a decoded protocol occurrence. It is treated as immutable once
// the dispatcher has stamped it; plugins receive copies.
type Event struct {
	ID      string    // unique id, assigned by the dispatcher when empty
	Seq     uint64    // arrival sequence, assigned by the dispatcher
	Kind    EventKind // closed enumeration
	Source  Prefix    // who caused it
	Target  string    // channel or direct-message nick; empty for quit/nick
	Payload string    // text, new nick, topic, mode string or kick victim
	TS      time.Time // event timestamp
}

// IsChannel reports whether the target is a channel name.
func (e Event) IsChannel() bool {
	return IsChannelName(e.Target)
}

// IsDirect reports whether the event was addressed to a nick rather than a channel.
func (e Event) IsDirect() bool {
	return e.Target != "" && !e.IsChannel()
}

// OrderingTarget returns the name whose queue serializes work for this
// event. Direct messages and events without a target order on the sender.
func (e Event) OrderingTarget() string {
	if e.IsChannel() {
		return e.Target
	}
	return e.Source.Nick
}

// ReplyTarget returns where a reply to this event should go.
func (e Event) ReplyTarget() string {
	return e.OrderingTarget()
}

// IsChannelName reports whether name starts with a channel sigil.
func IsChannelName(name string) bool {
	if name == "" {
		return false
	}
	switch name[0] {
	case '#', '&', '+', '!':
		return true
	}
	return false
}

// eventJSON is the transport wire shape of an Event.
type eventJSON struct {
	ID      string    `json:"id,omitempty"`
	Kind    EventKind `json:"kind"`
	Source  string    `json:"source"`
	Target  string    `json:"target,omitempty"`
	Payload string    `json:"payload,omitempty"`
	TS      time.Time `json:"ts,omitempty"`
}

// MarshalJSON renders the event in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:      e.ID,
		Kind:    e.Kind,
		Source:  e.Source.String(),
		Target:  e.Target,
		Payload: e.Payload,
		TS:      e.TS,
	})
}

// UnmarshalJSON decodes the wire shape and validates the kind.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = Event{
		ID:      w.ID,
		Kind:    w.Kind,
		Source:  ParsePrefix(w.Source),
		Target:  w.Target,
		Payload: w.Payload,
		TS:      w.TS,
	}
	return nil
}
