package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fullstylist/jobwatch/common"
)

// HandlerFunc runs one generation request.
type HandlerFunc[J, R any] func(ctx context.Context, request J) (R, error)

// QueueWorker claims jobs from the queue server, runs them and posts the
// results back.
type QueueWorker[J, R any] struct {
	queueURL        *url.URL
	authorization   string
	getJobsTickRate time.Duration
	jobChannel      chan common.Job[J, R]
	resultChannel   chan common.Job[J, R]
	httpClient      *http.Client
	log             *zerolog.Logger
	backoff         time.Duration
	maxBackoff      time.Duration
}

func NewQueueWorker[J, R any](queueURL, authorization string, options *Options) (*QueueWorker[J, R], error) {
	qurl, err := url.Parse(queueURL)
	if err != nil {
		return nil, err
	}

	opts := resolve(options)

	worker := &QueueWorker[J, R]{
		queueURL:      qurl,
		authorization: authorization,

		getJobsTickRate: opts.GetJobsTickRate,
		jobChannel:      make(chan common.Job[J, R], opts.JobChannelBufferSize),
		resultChannel:   make(chan common.Job[J, R], opts.ResultChannelBufferSize),
		httpClient:      opts.HttpClient,
		log:             opts.Logger,
		backoff:         opts.PostRetryBackoff,
		maxBackoff:      opts.PostRetryMaxBackoff,
	}

	return worker, nil
}

// ProcessJobs runs until ctx is cancelled. Each claimed job is handled on its
// own goroutine; handler errors mark the job failed.
func (w *QueueWorker[J, R]) ProcessJobs(ctx context.Context, f HandlerFunc[J, R]) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.getNewJobs(ctx) })
	g.Go(func() error { return w.postJobResults(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case job := <-w.jobChannel:
				g.Go(func() error {
					w.PostJobResult(ctx, w.run(ctx, f, job))
					return nil
				})
			}
		}
	})

	return g.Wait()
}

func (w *QueueWorker[J, R]) run(ctx context.Context, f HandlerFunc[J, R], j common.Job[J, R]) common.Job[J, R] {
	start := time.Now()

	result, err := f(ctx, j.Request)
	if err != nil {
		j.Status = common.Failed
		j.ErrorMessage = err.Error()
		w.log.Warn().Err(err).Str("job_id", j.ID).Msg("job failed")
	} else {
		j.Status = common.Succeeded
		j.Result = result
		w.log.Info().Str("job_id", j.ID).Dur("duration", time.Since(start)).Msg("job done")
	}

	return j
}

func (w *QueueWorker[J, R]) PostJobResult(ctx context.Context, job common.Job[J, R]) {
	select {
	case w.resultChannel <- job:
	case <-ctx.Done():
	}
}

func (w *QueueWorker[J, R]) getNewJobs(ctx context.Context) error {
	ticker := time.NewTicker(w.getJobsTickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			jobs, err := w.fetchJobs(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("fetch jobs")
				}
				continue
			}

			for _, job := range jobs {
				select {
				case w.jobChannel <- job:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (w *QueueWorker[J, R]) fetchJobs(ctx context.Context) ([]common.Job[J, R], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.queueURL.JoinPath("worker", "jobs").String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(common.WorkerAuthHeader, w.authorization)

	res, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkStatus(res, http.StatusOK); err != nil {
		return nil, err
	}

	var jobs []common.Job[J, R]
	if err := json.NewDecoder(res.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}

	return jobs, nil
}

func (w *QueueWorker[J, R]) postJobResults(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-w.resultChannel:
			if err := w.deliverResult(ctx, job); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Str("job_id", job.ID).Msg("post result")
			}
		}
	}
}

// deliverResult posts job until the server accepts it, rejects it for good, or
// ctx ends. Transport errors, 5xx and 429 are retried with a doubling backoff.
func (w *QueueWorker[J, R]) deliverResult(ctx context.Context, job common.Job[J, R]) error {
	wait := w.backoff
	for attempt := 1; ; attempt++ {
		err := w.postResult(ctx, job)
		if err == nil || !retryable(err) {
			return err
		}

		w.log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", attempt).Dur("retry_in", wait).Msg("post result failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait = min(wait*2, w.maxBackoff)
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	// marshal and request-building errors never reach the wire
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (w *QueueWorker[J, R]) postResult(ctx context.Context, job common.Job[J, R]) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.queueURL.JoinPath("worker", "results").String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set(common.WorkerAuthHeader, w.authorization)
	req.Header.Set("Content-Type", "application/json")

	res, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return checkStatus(res, http.StatusNoContent)
}
