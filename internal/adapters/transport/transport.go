// Package transport connects the bot to a source of decoded events and a
// destination for replies.
//
// Transports carry JSON: events in the model.Event wire shape and replies
// in the model.Message shape. Decoding the chat protocol itself happens
// on the far side.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

const defaultBuffer = 256

// Transport is an event source and a reply sink.
type Transport interface {
	// Start connects and begins delivering events.
	Start(ctx context.Context) error
	// Events is closed when the transport stops or loses its connection.
	Events() <-chan model.Event
	// Send delivers one reply line.
	Send(ctx context.Context, msg model.Message) error
	// Stop disconnects.
	Stop(ctx context.Context) error
}

// base holds the inbound side shared by every transport.
type base struct {
	name      string
	buffer    int
	inTimeout time.Duration
	logger    logger.Logger

	mu     sync.RWMutex
	events chan model.Event
	closed bool
}

func (b *base) init(name string, opts []Option) {
	b.name = name
	b.buffer = defaultBuffer
	b.logger = logger.Get().Named("transport-" + name)
	for _, opt := range opts {
		opt(b)
	}
	b.events = make(chan model.Event, b.buffer)
}

// Events returns the inbound event channel.
func (b *base) Events() <-chan model.Event { return b.events }

// decode parses one inbound frame.
func (b *base) decode(frame []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		metrics.RecordTransportFrame(b.name, "in", "malformed")
		return model.Event{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return ev, nil
}

// deliver hands ev to the consumer. It reports false when the event was
// dropped because the transport closed, ctx ended or the channel stayed
// full past the inbound timeout.
func (b *base) deliver(ctx context.Context, ev model.Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	var timeout <-chan time.Time
	if b.inTimeout > 0 {
		t := time.NewTimer(b.inTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case b.events <- ev:
		metrics.RecordTransportFrame(b.name, "in", "ok")
		return true
	case <-ctx.Done():
	case <-timeout:
		b.logger.Warn(ctx, "inbound event dropped, consumer stalled", logger.String("event_id", ev.ID))
	}
	metrics.RecordTransportFrame(b.name, "in", "dropped")
	return false
}

// closeEvents closes the event channel once.
func (b *base) closeEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
}

func encode(msg model.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Config selects and configures a transport.
type Config struct {
	Kind      string        `koanf:"kind"`
	URL       string        `koanf:"url"`
	Buffer    int           `koanf:"buffer"`
	InTimeout time.Duration `koanf:"in_timeout"`
	MQTT      MQTTConfig    `koanf:"mqtt"`
}

// New builds the transport named by cfg.Kind: stdio, websocket or mqtt.
// stdio reads from in and writes to out.
func New(cfg Config, in io.Reader, out io.Writer, opts ...Option) (Transport, error) {
	opts = append([]Option{WithBuffer(cfg.Buffer), WithInTimeout(cfg.InTimeout)}, opts...)
	switch cfg.Kind {
	case "", "stdio":
		return NewStdio(in, out, opts...), nil
	case "websocket", "ws":
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: websocket needs a url", ErrUnknownKind)
		}
		return NewWebSocket(cfg.URL, nil, opts...), nil
	case "mqtt":
		if cfg.MQTT.Broker == "" {
			return nil, fmt.Errorf("%w: mqtt needs a broker", ErrUnknownKind)
		}
		return NewMQTT(cfg.MQTT, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
