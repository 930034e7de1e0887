package plugin

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/okian/parley/internal/domain/model"
)

// CapabilityKind tags the variant held by a Capability.
type CapabilityKind uint8

// Capability variants.
const (
	CapCommand CapabilityKind = iota
	CapPattern
	CapObserver
)

func (k CapabilityKind) String() string {
	switch k {
	case CapCommand:
		return "command"
	case CapPattern:
		return "pattern"
	case CapObserver:
		return "observer"
	default:
		return "unknown"
	}
}

// Capability describes which events a plugin reacts to. Build it with
// Command, Pattern or Observer.
type Capability struct {
	Kind  CapabilityKind
	Token string            // command token, e.g. "!ping"
	Expr  string            // pattern source
	Kinds []model.EventKind // observed kinds; empty means all
}

// Command matches messages whose command token equals token.
func Command(token string) Capability {
	return Capability{Kind: CapCommand, Token: token}
}

// Pattern matches message payloads against a regular expression.
func Pattern(expr string) Capability {
	return Capability{Kind: CapPattern, Expr: expr}
}

// Observer matches every event of the given kinds, or of any kind when
// none are given.
func Observer(kinds ...model.EventKind) Capability {
	return Capability{Kind: CapObserver, Kinds: kinds}
}

// String renders the capability for listings.
func (c Capability) String() string {
	switch c.Kind {
	case CapCommand:
		return "command " + c.Token
	case CapPattern:
		return "pattern " + c.Expr
	case CapObserver:
		if len(c.Kinds) == 0 {
			return "observer *"
		}
		names := make([]string, len(c.Kinds))
		for i, k := range c.Kinds {
			names[i] = k.String()
		}
		return "observer " + strings.Join(names, ",")
	default:
		return "unknown"
	}
}

// compiled is the validated, ready to match form of a Capability.
type compiled struct {
	kind  CapabilityKind
	token string
	re    *regexp.Regexp
	kinds uint32 // bitmask over model.EventKind
}

func compile(c Capability, fold func(string) string) (compiled, error) {
	switch c.Kind {
	case CapCommand:
		tok := strings.TrimSpace(c.Token)
		if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
			return compiled{}, fmt.Errorf("%w: command token %q", ErrInvalidCapability, c.Token)
		}
		return compiled{kind: CapCommand, token: fold(tok)}, nil
	case CapPattern:
		if c.Expr == "" {
			return compiled{}, fmt.Errorf("%w: empty pattern", ErrInvalidCapability)
		}
		re, err := regexp.Compile(c.Expr)
		if err != nil {
			return compiled{}, fmt.Errorf("%w: %v", ErrInvalidCapability, err)
		}
		return compiled{kind: CapPattern, re: re}, nil
	case CapObserver:
		var mask uint32
		for _, k := range c.Kinds {
			if k.String() == "unknown" {
				return compiled{}, fmt.Errorf("%w: kind %d", ErrInvalidCapability, k)
			}
			mask |= 1 << k
		}
		if mask == 0 {
			mask = ^uint32(0)
		}
		return compiled{kind: CapObserver, kinds: mask}, nil
	default:
		return compiled{}, fmt.Errorf("%w: variant %d", ErrInvalidCapability, c.Kind)
	}
}
