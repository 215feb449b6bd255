package poller

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 30
)

type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Logger      *zerolog.Logger
}

type Option func(o *Options)

func NewOptions(options ...Option) *Options {
	nop := zerolog.Nop()
	config := &Options{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Logger:      &nop,
	}

	for _, option := range options {
		option(config)
	}

	return config
}

// WithInterval sets the wait between polls. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Interval = d
		}
	}
}

// WithMaxAttempts sets the attempt budget. Non-positive values keep the default.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxAttempts = n
		}
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
