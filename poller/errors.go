package poller

import (
	"errors"
	"fmt"
)

const defaultFailureMessage = "generation failed"

var ErrNoJobID = errors.New("poller: job id is required")

// FetchError means the status request itself failed. It ends the session.
type FetchError struct {
	JobID string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch status of job %s: %v", e.JobID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// JobFailedError means the job itself reached the failed status.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// PollingTimeoutError means the attempt budget ran out before a terminal status.
type PollingTimeoutError struct {
	JobID    string
	Attempts int
}

func (e *PollingTimeoutError) Error() string {
	return fmt.Sprintf("job %s still pending after %d attempts", e.JobID, e.Attempts)
}

func outcome(err error) string {
	var (
		fetchErr   *FetchError
		failedErr  *JobFailedError
		timeoutErr *PollingTimeoutError
	)
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &fetchErr):
		return "fetch_error"
	case errors.As(err, &failedErr):
		return "job_failed"
	case errors.As(err, &timeoutErr):
		return "timeout"
	default:
		return "stopped"
	}
}
