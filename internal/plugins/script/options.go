package script

import "github.com/okian/parley/pkg/logger"

// Option applies a configuration option to the Loader.
type Option func(*Loader)

// WithDir sets the directory script files are resolved against.
func WithDir(dir string) Option {
	return func(l *Loader) {
		l.dir = dir
	}
}

// WithPrefix sets the command prefix prepended to bare command names.
func WithPrefix(prefix string) Option {
	return func(l *Loader) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger sets a custom logger for script output.
func WithLogger(lg logger.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}
