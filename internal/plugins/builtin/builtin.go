// Package builtin provides the plugins shipped with parley.
package builtin

import (
	"fmt"
	"slices"

	"github.com/okian/parley/internal/adapters/repository"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
)

// Names of the built-in plugins, in registration order.
const (
	NamePing     = "ping"
	NameHelp     = "help"
	NameSeen     = "seen"
	NameKarma    = "karma"
	NameGreet    = "greet"
	NameAnnounce = "announce"
	NameAdmin    = "admin"
)

// All lists every built-in plugin name.
func All() []string {
	return []string{NamePing, NameHelp, NameSeen, NameKarma, NameGreet, NameAnnounce, NameAdmin}
}

// GreetConfig configures the join greeter.
type GreetConfig struct {
	Channels []string `koanf:"channels"` // empty greets nowhere
	Message  string   `koanf:"message"`  // "{nick}" and "{channel}" are substituted
}

// Deps are the collaborators the built-in plugins need.
type Deps struct {
	Registry    *plugin.Registry
	Store       plugin.Store        // nil keeps state in memory only
	Ranking     *repository.Ranking // nil creates a private one
	Casemapping model.Casemapping
	Greet       GreetConfig
}

// Descriptors builds the descriptors of the named plugins. An empty list
// selects every built-in plugin.
func Descriptors(d Deps, names ...string) ([]plugin.Descriptor, error) {
	if d.Registry == nil {
		return nil, ErrNoRegistry
	}
	if d.Ranking == nil {
		d.Ranking = repository.NewRanking()
	}
	if len(names) == 0 {
		names = All()
	}
	prefix := d.Registry.Prefix()

	var out []plugin.Descriptor
	for _, name := range names {
		switch name {
		case NamePing:
			out = append(out, Ping(prefix))
		case NameHelp:
			out = append(out, Help(prefix, d.Registry))
		case NameSeen:
			out = append(out, newSeen(d.Store, d.Casemapping).descriptors(prefix)...)
		case NameKarma:
			out = append(out, newKarma(d.Store, d.Ranking, d.Casemapping).descriptors(prefix)...)
		case NameGreet:
			out = append(out, Greet(d.Greet, d.Casemapping, d.Registry.Nick))
		case NameAnnounce:
			out = append(out, Announce())
		case NameAdmin:
			out = append(out, adminDescriptors(prefix, d.Registry)...)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
		}
	}
	return out, nil
}

// Register builds the named plugins and registers them with d.Registry.
func Register(d Deps, names ...string) error {
	ds, err := Descriptors(d, names...)
	if err != nil {
		return err
	}
	for _, desc := range ds {
		if err := d.Registry.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

// Known reports whether name is a built-in plugin.
func Known(name string) bool { return slices.Contains(All(), name) }
