package builtin

import (
	"context"

	"github.com/okian/parley/internal/domain/plugin"
)

// Ping answers the ping command with "pong".
func Ping(prefix string) plugin.Descriptor {
	return plugin.Descriptor{
		Name:       NamePing,
		Capability: plugin.Command(prefix + "ping"),
		Help:       "replies with pong",
		Handler: plugin.HandlerFunc(func(ctx context.Context, inv *plugin.Invocation) error {
			return inv.Say(ctx, "pong")
		}),
	}
}
