package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fullstylist/jobwatch/common"
)

type testJob = common.Job[string, string]

// scripted returns statuses in order, repeating the last one.
func scripted(calls *atomic.Int32, statuses ...common.Status) FetchFunc[string, string] {
	return func(ctx context.Context, jobID string) (*testJob, error) {
		n := int(calls.Add(1))
		i := n - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		job := &testJob{ID: jobID, Status: statuses[i]}
		if job.Status == common.Succeeded {
			job.Result = "image-bytes"
		}
		return job, nil
	}
}

type recorder struct {
	completed chan *testJob
	errs      chan error
}

func newRecorder() *recorder {
	return &recorder{
		completed: make(chan *testJob, 4),
		errs:      make(chan error, 4),
	}
}

func (r *recorder) callbacks() Callbacks[string, string] {
	return Callbacks[string, string]{
		OnComplete: func(job *testJob) { r.completed <- job },
		OnError:    func(err error) { r.errs <- err },
	}
}

func (r *recorder) waitErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case job := <-r.completed:
		t.Fatalf("unexpected completion: %+v", job)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
	return nil
}

func (r *recorder) waitComplete(t *testing.T) *testJob {
	t.Helper()
	select {
	case job := <-r.completed:
		return job
	case err := <-r.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion callback")
	}
	return nil
}

func (r *recorder) assertQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case job := <-r.completed:
		t.Fatalf("unexpected completion: %+v", job)
	case err := <-r.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(d):
	}
}

func fastOptions(maxAttempts int) *Options {
	return NewOptions(WithInterval(time.Millisecond), WithMaxAttempts(maxAttempts))
}

func TestPoller_TimeoutAfterMaxAttempts(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		var calls atomic.Int32
		rec := newRecorder()
		p := New(scripted(&calls, common.Running), rec.callbacks(), fastOptions(n))

		p.Start("job-1")
		err := rec.waitErr(t)

		var timeout *PollingTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, n, timeout.Attempts)
		assert.Equal(t, "job-1", timeout.JobID)
		assert.EqualValues(t, n, calls.Load())
		assert.Equal(t, n, p.Attempts())
		assert.False(t, p.Active())
		assert.Equal(t, err, p.Err())
		rec.assertQuiet(t, 20*time.Millisecond)
	}
}

func TestPoller_CompletesOnKthAttempt(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		statuses := make([]common.Status, 0, k)
		for i := 1; i < k; i++ {
			statuses = append(statuses, common.Queued)
		}
		statuses = append(statuses, common.Succeeded)

		var calls atomic.Int32
		rec := newRecorder()
		p := New(scripted(&calls, statuses...), rec.callbacks(), fastOptions(5))

		p.Start("job-1")
		job := rec.waitComplete(t)

		assert.Equal(t, "image-bytes", job.Result)
		assert.Nil(t, p.Err())
		rec.assertQuiet(t, 20*time.Millisecond)
		assert.EqualValues(t, k, calls.Load(), "no fetches after success")
	}
}

func TestPoller_StopBeforeTimerFires(t *testing.T) {
	var calls atomic.Int32
	rec := newRecorder()
	p := New(scripted(&calls, common.Running), rec.callbacks(),
		NewOptions(WithInterval(100*time.Millisecond), WithMaxAttempts(10)))

	p.Start("job-1")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	p.Stop()
	p.Stop()

	rec.assertQuiet(t, 250*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, p.Active())
}

func TestPoller_InFlightFetchIgnoredAfterStop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := FetchFunc[string, string](func(ctx context.Context, jobID string) (*testJob, error) {
		close(entered)
		<-release
		return &testJob{ID: jobID, Status: common.Succeeded}, nil
	})

	rec := newRecorder()
	p := New[string, string](fetch, rec.callbacks(), fastOptions(3))

	p.Start("job-1")
	<-entered
	p.Stop()
	close(release)

	rec.assertQuiet(t, 50*time.Millisecond)
	assert.Nil(t, p.Err())
}

func TestPoller_JobFailed(t *testing.T) {
	t.Run("with message", func(t *testing.T) {
		rec := newRecorder()
		fetch := FetchFunc[string, string](func(ctx context.Context, jobID string) (*testJob, error) {
			return &testJob{ID: jobID, Status: common.Failed, ErrorMessage: "prompt rejected"}, nil
		})
		p := New[string, string](fetch, rec.callbacks(), fastOptions(3))

		p.Start("job-1")

		var failed *JobFailedError
		require.ErrorAs(t, rec.waitErr(t), &failed)
		assert.Equal(t, "prompt rejected", failed.Message)
	})

	t.Run("fallback message", func(t *testing.T) {
		var calls atomic.Int32
		rec := newRecorder()
		p := New(scripted(&calls, common.Running, common.Failed), rec.callbacks(), fastOptions(3))

		p.Start("job-1")

		var failed *JobFailedError
		require.ErrorAs(t, rec.waitErr(t), &failed)
		assert.Equal(t, defaultFailureMessage, failed.Message)
		assert.EqualValues(t, 2, calls.Load())
	})
}

func TestPoller_FetchErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	transient := errors.New("connection reset")
	fetch := FetchFunc[string, string](func(ctx context.Context, jobID string) (*testJob, error) {
		if calls.Add(1)%2 == 1 {
			return nil, transient
		}
		return &testJob{ID: jobID, Status: common.Succeeded}, nil
	})

	rec := newRecorder()
	p := New[string, string](fetch, rec.callbacks(), fastOptions(5))

	p.Start("job-1")
	err := rec.waitErr(t)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, transient)
	rec.assertQuiet(t, 20*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPoller_NilJobIsNotFound(t *testing.T) {
	rec := newRecorder()
	fetch := FetchFunc[string, string](func(ctx context.Context, jobID string) (*testJob, error) {
		return nil, nil
	})
	p := New[string, string](fetch, rec.callbacks(), fastOptions(5))

	p.Start("job-1")
	assert.ErrorIs(t, rec.waitErr(t), common.ErrJobNotFound)
}

func TestPoller_CompletesAfterTwoIntervals(t *testing.T) {
	var calls atomic.Int32
	rec := newRecorder()
	p := New(scripted(&calls, common.Running, common.Running, common.Succeeded), rec.callbacks(),
		NewOptions(WithInterval(100*time.Millisecond), WithMaxAttempts(3)))

	start := time.Now()
	p.Start("job-1")
	rec.waitComplete(t)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.EqualValues(t, 3, calls.Load())
	assert.Empty(t, rec.errs)
}

func TestPoller_RetryStartsFreshSession(t *testing.T) {
	var calls atomic.Int32
	rec := newRecorder()
	p := New(scripted(&calls, common.Running), rec.callbacks(), fastOptions(2))

	p.Start("job-1")
	var timeout *PollingTimeoutError
	require.ErrorAs(t, rec.waitErr(t), &timeout)
	assert.Equal(t, 2, p.Attempts())

	p.Retry()
	require.ErrorAs(t, rec.waitErr(t), &timeout)

	assert.Equal(t, 2, timeout.Attempts, "attempt counter restarts")
	assert.Equal(t, 2, p.Attempts())
	assert.Equal(t, "job-1", p.JobID())
	assert.EqualValues(t, 4, calls.Load())
}

func TestPoller_StartIgnoresEmptyAndActive(t *testing.T) {
	var calls atomic.Int32
	rec := newRecorder()
	p := New(scripted(&calls, common.Running, common.Succeeded), rec.callbacks(),
		NewOptions(WithInterval(50*time.Millisecond), WithMaxAttempts(3)))

	p.Start("")
	p.Retry()
	assert.False(t, p.Active())
	assert.Zero(t, calls.Load())

	// the id shows up later, as when a submission response arrives
	p.Start("job-1")
	p.Start("job-2")
	assert.True(t, p.Active())

	job := rec.waitComplete(t)
	assert.Equal(t, "job-1", job.ID)
	assert.EqualValues(t, 2, calls.Load())
}

func TestPoller_DefaultsForInvalidOptions(t *testing.T) {
	opts := NewOptions(WithInterval(0), WithMaxAttempts(-1), WithLogger(nil))
	assert.Equal(t, DefaultInterval, opts.Interval)
	assert.Equal(t, DefaultMaxAttempts, opts.MaxAttempts)
	assert.NotNil(t, opts.Logger)

	p := New[string, string](scripted(new(atomic.Int32), common.Running), Callbacks[string, string]{}, nil)
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultMaxAttempts, p.maxAttempts)
}

func TestPoller_Poll(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var calls atomic.Int32
		p := New(scripted(&calls, common.Queued, common.Succeeded), Callbacks[string, string]{}, fastOptions(3))

		job, err := p.Poll(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, common.Succeeded, job.Status)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("cancelled", func(t *testing.T) {
		var calls atomic.Int32
		p := New(scripted(&calls, common.Running), Callbacks[string, string]{},
			NewOptions(WithInterval(time.Hour), WithMaxAttempts(3)))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			for calls.Load() == 0 {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}()

		_, err := p.Poll(ctx, "job-1")
		assert.ErrorIs(t, err, context.Canceled)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("empty id", func(t *testing.T) {
		p := New(scripted(new(atomic.Int32), common.Running), Callbacks[string, string]{}, nil)
		_, err := p.Poll(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoJobID)
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "completed", outcome(nil))
	assert.Equal(t, "fetch_error", outcome(&FetchError{Err: errors.New("x")}))
	assert.Equal(t, "job_failed", outcome(&JobFailedError{}))
	assert.Equal(t, "timeout", outcome(&PollingTimeoutError{}))
	assert.Equal(t, "stopped", outcome(context.Canceled))
}
