package cache

import (
	"maps"
	"time"

	"github.com/okian/parley/internal/domain/model"
)

// Flags is a bitset of derived facts about an entity.
type Flags uint32

// Known flags. Plugins may define their own above FlagUser.
const (
	FlagOperator Flags = 1 << iota
	FlagVoice
	FlagBot
	FlagAdmin
	FlagJoined
	FlagUser Flags = 1 << 16
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagOperator, "operator"},
	{FlagVoice, "voice"},
	{FlagBot, "bot"},
	{FlagAdmin, "admin"},
	{FlagJoined, "joined"},
}

// Names lists the names of the known flags that are set.
func (f Flags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

// Record is the cached derived state of one user or channel.
// Values handed out by the cache are snapshots; mutating them has no effect
// on the cache.
type Record struct {
	Key      model.Key
	LastSeen time.Time
	Flags    Flags
	Attrs    map[string]string
}

// Has reports whether every flag in f is set.
func (r Record) Has(f Flags) bool { return r.Flags&f == f }

// Attr returns the attribute value, or "" when it is not set.
func (r Record) Attr(name string) string { return r.Attrs[name] }

// SetAttr sets an attribute, allocating the bag on first use.
func (r *Record) SetAttr(name, value string) {
	if r.Attrs == nil {
		r.Attrs = make(map[string]string)
	}
	r.Attrs[name] = value
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r.Attrs != nil {
		r.Attrs = maps.Clone(r.Attrs)
	}
	return r
}
