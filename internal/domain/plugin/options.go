package plugin

import "github.com/okian/parley/internal/domain/model"

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithCommandPrefix sets the prefix that marks a command token, "!" by default.
func WithCommandPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithNick sets the bot's own nick, used to detect addressed messages.
func WithNick(nick string) Option {
	return func(r *Registry) {
		r.nick = nick
	}
}

// WithCasemapping sets how command tokens and nicks are folded.
func WithCasemapping(cm model.Casemapping) Option {
	return func(r *Registry) {
		r.cm = cm
	}
}
