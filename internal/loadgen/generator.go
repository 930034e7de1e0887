package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
)

// Shares of non-message kinds in the stream.
const (
	joinShare  = 0.05
	topicShare = 0.05
)

var chatter = []string{"hello", "anyone around?", "brb", "nice", "lol", "see you", "thanks"}

// Nick returns the nick of user i.
func Nick(i int) string { return fmt.Sprintf("user%03d", i) }

// Channel returns the name of target i.
func Channel(i int) string { return fmt.Sprintf("#load%02d", i) }

// Generate builds the event stream for cfg. IDs are derived from the seed
// and the position so that equal configs produce equal streams.
func Generate(ctx context.Context, cfg *Config) []Event {
	logger.Get().Info(ctx, "generating events", logger.Int("events", cfg.Events),
		logger.Int("users", cfg.Users), logger.Int("targets", cfg.Targets))

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	users, targets := max(cfg.Users, 1), max(cfg.Targets, 1)
	now := time.Now().UTC()

	events := make([]Event, 0, cfg.Events)
	for i := 0; i < cfg.Events; i++ {
		if i > 0 && rng.Float64() < cfg.Replays {
			events = append(events, events[rng.IntN(len(events))])
			continue
		}
		u := rng.IntN(users)
		ev := Event{
			ID:     uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%d/%d", cfg.Seed, i)).String(),
			Kind:   model.KindMessage,
			Source: model.Prefix{Nick: Nick(u), User: "load", Host: "loadgen.test"},
			Target: Channel(rng.IntN(targets)),
			TS:     now.Add(time.Duration(i) * time.Millisecond),
		}
		switch r := rng.Float64(); {
		case r < joinShare:
			ev.Kind = model.KindJoin
		case r < joinShare+topicShare:
			ev.Kind = model.KindTopic
			ev.Payload = "load test " + ev.ID[:8]
		case rng.Float64() < cfg.Commands:
			ev.Payload = cfg.Prefix + "ping"
		default:
			ev.Payload = chatter[rng.IntN(len(chatter))]
		}
		events = append(events, ev)
	}
	return events
}
