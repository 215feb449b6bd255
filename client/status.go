package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fullstylist/jobwatch/common"
)

const maxErrorBody = 512

// StatusClient talks to the public job endpoints. It satisfies
// poller.Fetcher.
type StatusClient[J, R any] struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        *zerolog.Logger
}

func NewStatusClient[J, R any](baseURL string, options *Options) (*StatusClient[J, R], error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	opts := resolve(options)

	return &StatusClient[J, R]{baseURL: u, httpClient: opts.HttpClient, log: opts.Logger}, nil
}

// FetchJobStatus returns the current job state. Unknown ids yield an error
// wrapping common.ErrJobNotFound.
func (c *StatusClient[J, R]) FetchJobStatus(ctx context.Context, jobID string) (*common.Job[J, R], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath("jobs", jobID).String(), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("job_id", jobID).Msg("fetch job status")
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		c.log.Debug().Str("job_id", jobID).Msg("job not found")
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrJobNotFound)
	}
	if err := checkStatus(res, http.StatusOK); err != nil {
		c.log.Warn().Err(err).Str("job_id", jobID).Msg("fetch job status")
		return nil, err
	}

	var job common.Job[J, R]
	if err := json.NewDecoder(res.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}

	return &job, nil
}

// Submit creates a generation job and returns its id.
func (c *StatusClient[J, R]) Submit(ctx context.Context, request J) (string, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath("jobs").String(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("submit job")
		return "", err
	}
	defer res.Body.Close()

	if err := checkStatus(res, http.StatusCreated); err != nil {
		c.log.Warn().Err(err).Msg("submit job")
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("submit response has no job id")
	}

	return created.ID, nil
}

// StatusError is a response with an unexpected HTTP status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

func checkStatus(res *http.Response, want int) error {
	if res.StatusCode == want {
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return &StatusError{
		Method: res.Request.Method,
		Path:   res.Request.URL.Path,
		Code:   res.StatusCode,
		Body:   strings.TrimSpace(string(b)),
	}
}
