package builtin

import (
	"context"
	"strings"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
)

const defaultGreeting = "welcome to {channel}, {nick}!"

// Greet welcomes users joining one of the configured channels. The bot's
// own joins are ignored; nick reports the bot's current nick.
func Greet(cfg GreetConfig, cm model.Casemapping, nick func() string) plugin.Descriptor {
	channels := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[cm.Fold(strings.TrimSpace(ch))] = struct{}{}
	}
	msg := cfg.Message
	if msg == "" {
		msg = defaultGreeting
	}
	return plugin.Descriptor{
		Name:       NameGreet,
		Capability: plugin.Observer(model.KindJoin),
		Priority:   50,
		Help:       "greets users joining configured channels",
		Handler: plugin.HandlerFunc(func(ctx context.Context, inv *plugin.Invocation) error {
			ev := inv.Event
			if _, ok := channels[cm.Fold(ev.Target)]; !ok {
				return nil
			}
			if me := nick(); me != "" && cm.Equal(ev.Source.Nick, me) {
				return nil
			}
			text := strings.NewReplacer("{nick}", ev.Source.Nick, "{channel}", ev.Target).Replace(msg)
			return inv.Say(ctx, text)
		}),
	}
}
