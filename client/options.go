package client

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	GetJobsTickRate         time.Duration
	JobChannelBufferSize    uint
	ResultChannelBufferSize uint
	HttpClient              *http.Client
	Logger                  *zerolog.Logger

	// Result posts that fail with a transport error or a 5xx/429 are retried,
	// doubling the wait from PostRetryBackoff up to PostRetryMaxBackoff.
	PostRetryBackoff    time.Duration
	PostRetryMaxBackoff time.Duration
}

type Option func(o *Options)

func NewOptions(options ...Option) *Options {
	nop := zerolog.Nop()
	config := &Options{
		GetJobsTickRate:         time.Millisecond * 100,
		JobChannelBufferSize:    100,
		ResultChannelBufferSize: 100,
		HttpClient:              &http.Client{Timeout: 30 * time.Second},
		Logger:                  &nop,
		PostRetryBackoff:        200 * time.Millisecond,
		PostRetryMaxBackoff:     10 * time.Second,
	}

	for _, option := range options {
		option(config)
	}

	return config
}

// resolve fills the unset fields of a caller-built Options with defaults.
func resolve(options *Options) *Options {
	if options == nil {
		return NewOptions()
	}

	return NewOptions(
		WithGetJobsTickRate(options.GetJobsTickRate),
		WithJobChannelBufferSize(options.JobChannelBufferSize),
		WithResultChannelBufferSize(options.ResultChannelBufferSize),
		WithHttpClient(options.HttpClient),
		WithLogger(options.Logger),
		WithPostRetryBackoff(options.PostRetryBackoff, options.PostRetryMaxBackoff),
	)
}

func WithGetJobsTickRate(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.GetJobsTickRate = d
		}
	}
}

func WithJobChannelBufferSize(s uint) Option {
	return func(o *Options) {
		o.JobChannelBufferSize = s
	}
}

func WithResultChannelBufferSize(s uint) Option {
	return func(o *Options) {
		o.ResultChannelBufferSize = s
	}
}

func WithHttpClient(h *http.Client) Option {
	return func(o *Options) {
		if h != nil {
			o.HttpClient = h
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

// WithPostRetryBackoff sets the first and the largest wait between result
// post attempts. Non-positive values keep the defaults.
func WithPostRetryBackoff(initial, max time.Duration) Option {
	return func(o *Options) {
		if initial > 0 {
			o.PostRetryBackoff = initial
		}
		if max > 0 {
			o.PostRetryMaxBackoff = max
		}
		if o.PostRetryMaxBackoff < o.PostRetryBackoff {
			o.PostRetryMaxBackoff = o.PostRetryBackoff
		}
	}
}
