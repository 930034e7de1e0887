package builtin

import (
	"context"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
)

// Announce relays scheduled tick payloads to the tick's target.
func Announce() plugin.Descriptor {
	return plugin.Descriptor{
		Name:       NameAnnounce,
		Capability: plugin.Observer(model.KindTick),
		Priority:   50,
		Help:       "relays scheduled announcements",
		Handler: plugin.HandlerFunc(func(ctx context.Context, inv *plugin.Invocation) error {
			ev := inv.Event
			if ev.Target == "" || ev.Payload == "" {
				return nil
			}
			return inv.SayTo(ctx, ev.Target, ev.Payload)
		}),
	}
}
