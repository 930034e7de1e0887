// Package dedupe filters events that a transport delivers more than once.
//
// At-least-once transports (MQTT QoS 1, reconnecting websockets) may replay
// an event id; the dispatcher drops ids seen within the recent window.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen event IDs to ensure at-most-once dispatch.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a later delivery is accepted again.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// windowDeduper remembers the last maxSize ids in a ring; the oldest id is
// forgotten when a new one arrives at capacity.
type windowDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // id -> ring slot
	ring    []string
	next    int
	maxSize int
}

// NewWindowDeduper creates a deduper over a fixed window of recent ids.
// A window of zero or less disables filtering.
func NewWindowDeduper(opts ...Option) Deduper {
	d := &windowDeduper{
		maxSize: 4096,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize > 0 {
		d.seen = make(map[string]int, d.maxSize)
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *windowDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	if d.maxSize <= 0 || id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.seen[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *windowDeduper) Unrecord(ctx context.Context, id string) {
	if d.maxSize <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if slot, ok := d.seen[id]; ok {
		d.ring[slot] = ""
		delete(d.seen, id)
	}
}

// Size returns the number of remembered ids.
func (d *windowDeduper) Size() int64 {
	if d.maxSize <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
