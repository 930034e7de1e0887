package plugin

import (
	"context"

	"github.com/okian/parley/internal/domain/cache"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
)

// Outbox accepts replies produced by an invocation.
type Outbox interface {
	Submit(ctx context.Context, msg model.Message) error
}

// Entities is the plugin view of the entity cache. Names are folded with
// the network casemapping before they reach the cache.
type Entities interface {
	Lookup(ctx context.Context, name string) (cache.Record, bool)
	Annotate(ctx context.Context, name string, fn func(*cache.Record)) (cache.Record, error)
}

// Store is optional persistent key/value storage, namespaced per plugin.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error
	Incr(ctx context.Context, bucket, key string, delta int64) (int64, error)
	Scan(ctx context.Context, bucket string, fn func(key string, value []byte) error) error
}

// Invocation is one execution of one matched plugin against one event.
// The event is a copy; plugins must not retain the invocation after
// Handle returns.
type Invocation struct {
	ID       string
	Event    model.Event
	Match    Match
	Entities Entities
	Store    Store // nil when persistence is disabled
	Out      Outbox
	Log      logger.Logger
}

// Say sends text to where the event came from.
func (inv *Invocation) Say(ctx context.Context, text string) error {
	return inv.send(ctx, model.Message{Target: inv.Event.ReplyTarget(), Text: text, Kind: model.MessagePrivmsg})
}

// Reply answers the sender, prefixing their nick when replying in a channel.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	if inv.Event.IsChannel() && inv.Event.Source.Nick != "" {
		text = inv.Event.Source.Nick + ": " + text
	}
	return inv.Say(ctx, text)
}

// SayTo sends text to an explicit target.
func (inv *Invocation) SayTo(ctx context.Context, target, text string) error {
	return inv.send(ctx, model.Message{Target: target, Text: text, Kind: model.MessagePrivmsg})
}

// Notice sends a notice to the sender only.
func (inv *Invocation) Notice(ctx context.Context, text string) error {
	return inv.send(ctx, model.Message{Target: inv.Event.Source.Nick, Text: text, Kind: model.MessageNotice})
}

// Act sends an action ("/me") to where the event came from.
func (inv *Invocation) Act(ctx context.Context, text string) error {
	return inv.send(ctx, model.Message{Target: inv.Event.ReplyTarget(), Text: text, Kind: model.MessageAction})
}

func (inv *Invocation) send(ctx context.Context, msg model.Message) error {
	if inv.Out == nil {
		return ErrNoOutbox
	}
	return inv.Out.Submit(ctx, msg)
}
