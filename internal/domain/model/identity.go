package model

import (
	"fmt"
	"strings"
)

// Key is a normalized, case-folded identity of a user or channel.
// Channel names keep their sigil, so they never collide with nicks.
type Key string

// String returns the key as a plain string.
func (k Key) String() string { return string(k) }

// Casemapping describes which spellings the protocol treats as equal.
type Casemapping uint8

// Supported casemappings.
const (
	// RFC1459 folds A-Z plus []\~ onto a-z plus {}|^.
	RFC1459 Casemapping = iota
	// StrictRFC1459 folds A-Z plus []\ onto a-z plus {}|.
	StrictRFC1459
	// ASCII folds A-Z only.
	ASCII
)

// ParseCasemapping maps a configuration value to a Casemapping.
func ParseCasemapping(s string) (Casemapping, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rfc1459":
		return RFC1459, nil
	case "strict-rfc1459":
		return StrictRFC1459, nil
	case "ascii":
		return ASCII, nil
	default:
		return 0, fmt.Errorf("unknown casemapping: %s", s)
	}
}

// String returns the configuration name of the casemapping.
func (c Casemapping) String() string {
	switch c {
	case StrictRFC1459:
		return "strict-rfc1459"
	case ASCII:
		return "ascii"
	default:
		return "rfc1459"
	}
}

// Fold lowercases s according to the casemapping.
func (c Casemapping) Fold(s string) string {
	b := []byte(s)
	for i, ch := range b {
		switch {
		case ch >= 'A' && ch <= 'Z':
			b[i] = ch + ('a' - 'A')
		case c == ASCII:
		case ch == '[':
			b[i] = '{'
		case ch == ']':
			b[i] = '}'
		case ch == '\\':
			b[i] = '|'
		case ch == '~' && c == RFC1459:
			b[i] = '^'
		}
	}
	return string(b)
}

// Key folds s into an identity key. Surrounding whitespace is not
// significant to the protocol and is trimmed.
func (c Casemapping) Key(s string) Key {
	return Key(c.Fold(strings.TrimSpace(s)))
}

// Equal reports whether a and b name the same entity.
func (c Casemapping) Equal(a, b string) bool {
	return c.Key(a) == c.Key(b)
}
