// Package plugin holds the registry of bot behaviors and the boundary they
// are invoked through.
package plugin

import (
	"context"
	"time"
)

// Concurrency says whether a plugin must be serialized with the other work
// queued for its target.
type Concurrency uint8

// Concurrency classes.
const (
	// Ordered invocations run one at a time per target, in arrival order.
	Ordered Concurrency = iota
	// Independent invocations do not depend on ordering and may run on the
	// unordered pool, concurrently with work for the same target.
	Independent
)

func (c Concurrency) String() string {
	if c == Independent {
		return "independent"
	}
	return "ordered"
}

// Auth is the privilege a source needs to trigger a plugin.
type Auth uint8

// Auth levels.
const (
	Public Auth = iota
	Admin
)

func (a Auth) String() string {
	if a == Admin {
		return "admin"
	}
	return "public"
}

// Handler is the body of a plugin.
type Handler interface {
	Handle(ctx context.Context, inv *Invocation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, inv *Invocation) error { return f(ctx, inv) }

// Descriptor is a registered behavior. It is immutable while registered.
type Descriptor struct {
	Name        string
	Capability  Capability
	Priority    int // lower runs first
	Concurrency Concurrency
	Auth        Auth
	Timeout     time.Duration // zero uses the pool default
	Help        string
	Handler     Handler
}

// Info is the listing form of a descriptor.
type Info struct {
	Name        string `json:"name"`
	Capability  string `json:"capability"`
	Priority    int    `json:"priority"`
	Concurrency string `json:"concurrency"`
	Auth        string `json:"auth"`
	Timeout     string `json:"timeout,omitempty"`
	Help        string `json:"help,omitempty"`
	Enabled     bool   `json:"enabled"`
}
