package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fullstylist/jobwatch/common"
	"github.com/fullstylist/jobwatch/logging"
	"github.com/fullstylist/jobwatch/metrics"
)

type Fetcher[J, R any] interface {
	FetchJobStatus(ctx context.Context, jobID string) (*common.Job[J, R], error)
}

type FetchFunc[J, R any] func(ctx context.Context, jobID string) (*common.Job[J, R], error)

func (f FetchFunc[J, R]) FetchJobStatus(ctx context.Context, jobID string) (*common.Job[J, R], error) {
	return f(ctx, jobID)
}

// Callbacks receive the single terminal outcome of a session.
type Callbacks[J, R any] struct {
	OnComplete func(job *common.Job[J, R])
	OnError    func(err error)
}

// Poller watches one job at a time. Start runs a session in the background and
// reports through Callbacks; Poll runs a session on the caller's goroutine.
type Poller[J, R any] struct {
	fetcher     Fetcher[J, R]
	callbacks   Callbacks[J, R]
	interval    time.Duration
	maxAttempts int
	log         *zerolog.Logger

	mu       sync.Mutex
	jobID    string
	active   bool
	session  uint64
	cancel   context.CancelFunc
	attempts int
	err      error
}

func New[J, R any](fetcher Fetcher[J, R], callbacks Callbacks[J, R], options *Options) *Poller[J, R] {
	opts := NewOptions()
	if options != nil {
		// re-apply through the options so zero fields of a literal get defaults
		opts = NewOptions(WithInterval(options.Interval), WithMaxAttempts(options.MaxAttempts), WithLogger(options.Logger))
	}

	return &Poller[J, R]{
		fetcher:     fetcher,
		callbacks:   callbacks,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger,
	}
}

// Start begins polling jobID. It does nothing when jobID is empty or a session
// is already active.
func (p *Poller[J, R]) Start(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active || jobID == "" {
		return
	}

	p.startLocked(jobID)
}

// Stop cancels the active session. The pending timer and any in-flight fetch
// are abandoned; neither callback fires for that session.
func (p *Poller[J, R]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}

	p.endLocked()
	metrics.IncPollSession("stopped")
	p.log.Debug().Str("job_id", p.jobID).Int("attempt", p.attempts).Msg("polling stopped")
}

// Retry starts a fresh session for the last job id, replacing any active one.
func (p *Poller[J, R]) Retry() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.jobID == "" {
		return
	}

	if p.active {
		p.endLocked()
	}

	p.startLocked(p.jobID)
}

func (p *Poller[J, R]) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller[J, R]) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Err returns the error that ended the last session, if any.
func (p *Poller[J, R]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Poller[J, R]) JobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

// Poll runs one session synchronously and returns the succeeded job or the
// error that ended the session. Cancelling ctx ends it with ctx.Err().
func (p *Poller[J, R]) Poll(ctx context.Context, jobID string) (*common.Job[J, R], error) {
	if jobID == "" {
		return nil, ErrNoJobID
	}
	defer logging.TraceDuration(p.log, "poller.Poll")()

	job, err := p.poll(ctx, jobID, nil)
	if ctx.Err() == nil {
		metrics.IncPollSession(outcome(err))
	}
	return job, err
}

func (p *Poller[J, R]) startLocked(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())

	p.session++
	p.jobID = jobID
	p.active = true
	p.cancel = cancel
	p.attempts = 0
	p.err = nil

	go p.runSession(ctx, p.session, jobID)
}

func (p *Poller[J, R]) endLocked() {
	p.active = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// live reports whether session is still the current, active one.
func (p *Poller[J, R]) live(session uint64) bool {
	return p.active && p.session == session
}

func (p *Poller[J, R]) runSession(ctx context.Context, session uint64, jobID string) {
	job, err := p.poll(ctx, jobID, func(n int) bool {
		p.mu.Lock()
		defer p.mu.Unlock()

		if !p.live(session) {
			return false
		}
		p.attempts = n
		return true
	})

	p.mu.Lock()
	if !p.live(session) {
		p.mu.Unlock()
		return
	}
	p.endLocked()
	p.err = err
	callbacks := p.callbacks
	p.mu.Unlock()

	metrics.IncPollSession(outcome(err))

	if err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("polling ended with error")
		if callbacks.OnError != nil {
			callbacks.OnError(err)
		}
		return
	}

	p.log.Info().Str("job_id", jobID).Msg("job succeeded")
	if callbacks.OnComplete != nil {
		callbacks.OnComplete(job)
	}
}

// poll is the session loop. before is consulted ahead of every fetch; a false
// return aborts the session without a result.
func (p *Poller[J, R]) poll(ctx context.Context, jobID string, before func(attempt int) bool) (*common.Job[J, R], error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if before != nil && !before(attempt) {
			return nil, context.Canceled
		}

		job, err := p.fetcher.FetchJobStatus(ctx, jobID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			metrics.IncPollFetch("error")
			return nil, &FetchError{JobID: jobID, Err: err}
		}
		metrics.IncPollFetch("ok")
		if job == nil {
			return nil, &FetchError{JobID: jobID, Err: common.ErrJobNotFound}
		}

		p.log.Debug().Str("job_id", jobID).Int("attempt", attempt).Str("status", string(job.Status)).Msg("polled job")

		switch job.Status {
		case common.Succeeded:
			return job, nil
		case common.Failed:
			msg := job.ErrorMessage
			if msg == "" {
				msg = defaultFailureMessage
			}
			return nil, &JobFailedError{JobID: jobID, Message: msg}
		}

		if attempt >= p.maxAttempts {
			return nil, &PollingTimeoutError{JobID: jobID, Attempts: attempt}
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
