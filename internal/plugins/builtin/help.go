package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/parley/internal/domain/plugin"
)

// Help lists commands, or describes one plugin when given its name or
// command.
func Help(prefix string, r *plugin.Registry) plugin.Descriptor {
	return plugin.Descriptor{
		Name:       NameHelp,
		Capability: plugin.Command(prefix + "help"),
		Help:       "lists commands; " + prefix + "help <command> describes one",
		Handler: plugin.HandlerFunc(func(ctx context.Context, inv *plugin.Invocation) error {
			if len(inv.Match.Args) > 0 {
				return inv.Reply(ctx, describe(r, prefix, inv.Match.Args[0]))
			}
			var cmds []string
			for _, info := range r.Descriptors() {
				if !info.Enabled {
					continue
				}
				d, ok := r.Lookup(info.Name)
				if !ok || d.Capability.Kind != plugin.CapCommand {
					continue
				}
				cmds = append(cmds, d.Capability.Token)
			}
			if len(cmds) == 0 {
				return inv.Reply(ctx, "no commands available")
			}
			return inv.Reply(ctx, "commands: "+strings.Join(cmds, " "))
		}),
	}
}

func describe(r *plugin.Registry, prefix, what string) string {
	token := what
	if !strings.HasPrefix(token, prefix) {
		token = prefix + token
	}
	for _, info := range r.Descriptors() {
		d, ok := r.Lookup(info.Name)
		if !ok {
			continue
		}
		if info.Name == what || (d.Capability.Kind == plugin.CapCommand && strings.EqualFold(d.Capability.Token, token)) {
			text := info.Help
			if text == "" {
				text = "no help available"
			}
			if !info.Enabled {
				text += " (disabled)"
			}
			return fmt.Sprintf("%s: %s", info.Name, text)
		}
	}
	return fmt.Sprintf("no such command: %s", what)
}
