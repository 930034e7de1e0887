package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/parley/internal/domain/plugin"
)

// adminDescriptors toggle plugins at runtime. Only admins may use them.
func adminDescriptors(prefix string, r *plugin.Registry) []plugin.Descriptor {
	toggle := func(enabled bool) plugin.HandlerFunc {
		verb := "disabled"
		if enabled {
			verb = "enabled"
		}
		return func(ctx context.Context, inv *plugin.Invocation) error {
			if len(inv.Match.Args) == 0 {
				return inv.Reply(ctx, "which plugin?")
			}
			name := inv.Match.Args[0]
			if !enabled && (name == NameAdmin+"-enable" || name == NameAdmin+"-disable") {
				return inv.Reply(ctx, "refusing to disable the admin commands")
			}
			if err := r.SetEnabled(name, enabled); err != nil {
				if errors.Is(err, plugin.ErrNotFound) {
					return inv.Reply(ctx, "no such plugin: "+name)
				}
				return err
			}
			return inv.Reply(ctx, fmt.Sprintf("%s %s", verb, name))
		}
	}
	return []plugin.Descriptor{
		{
			Name:       NameAdmin + "-disable",
			Capability: plugin.Command(prefix + "disable"),
			Auth:       plugin.Admin,
			Help:       "disables a plugin by name",
			Handler:    toggle(false),
		},
		{
			Name:       NameAdmin + "-enable",
			Capability: plugin.Command(prefix + "enable"),
			Auth:       plugin.Admin,
			Help:       "enables a plugin by name",
			Handler:    toggle(true),
		},
	}
}
