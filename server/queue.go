package server

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"

	"github.com/fullstylist/jobwatch/common"
	"github.com/fullstylist/jobwatch/logging"
)

// QueueServer keeps generation jobs in memory and serves them over HTTP.
// Stored jobs are never mutated in place; every transition stores a copy, so
// readers can use the map without locking.
type QueueServer[J, R any] struct {
	queue         *haxmap.Map[string, *common.Job[J, R]]
	authorization string
	router        chi.Router
	log           *zerolog.Logger
	now           func() time.Time

	// transitions serializes read-modify-write updates.
	transitions sync.Mutex
}

func NewQueueServer[J, R any](authorization string, logger *zerolog.Logger) *QueueServer[J, R] {
	if logger == nil {
		logger = logging.Nop()
	}

	q := &QueueServer[J, R]{
		queue:         haxmap.New[string, *common.Job[J, R]](),
		authorization: authorization,
		log:           logger,
		now:           time.Now,
	}
	q.router = q.routes()

	return q
}

func (q *QueueServer[J, R]) NewJob(req J) string {
	now := q.now()

	newJob := &common.Job[J, R]{
		ID:        shortid.MustGenerate(),
		Status:    common.Queued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.AddJob(newJob)
	q.log.Debug().Str("job_id", newJob.ID).Msg("job queued")

	return newJob.ID
}

func (q *QueueServer[J, R]) AddJob(job *common.Job[J, R]) {
	stored := *job
	q.queue.Set(job.ID, &stored)
}

func (q *QueueServer[J, R]) RemoveJob(id string) {
	q.queue.Del(id)
}

// GetJob returns a copy of the stored job.
func (q *QueueServer[J, R]) GetJob(id string) (*common.Job[J, R], bool) {
	job, ok := q.queue.Get(id)
	if !ok {
		return nil, false
	}

	out := *job
	return &out, true
}

// UpdateJob applies the status, result and error of job to the stored job with
// the same id. Terminal jobs are immutable.
func (q *QueueServer[J, R]) UpdateJob(job *common.Job[J, R]) error {
	q.transitions.Lock()
	defer q.transitions.Unlock()

	current, ok := q.queue.Get(job.ID)
	if !ok {
		return common.ErrJobNotFound
	}
	if current.Status.Terminal() {
		return common.ErrJobTerminal
	}

	next := *current
	next.Status = job.Status
	next.Result = job.Result
	next.ErrorMessage = job.ErrorMessage
	next.UpdatedAt = q.now()
	q.queue.Set(next.ID, &next)

	q.log.Debug().Str("job_id", next.ID).Str("status", string(next.Status)).Msg("job updated")
	return nil
}

func (q *QueueServer[J, R]) CheckJob(id string) common.Status {
	job, ok := q.queue.Get(id)
	if !ok {
		return common.NotExist
	}

	return job.Status
}

// waitTick is how often WaitJob re-checks a job's status.
const waitTick = 10 * time.Millisecond

// WaitJob blocks until the job is terminal or ctx ends. On ctx end it returns
// the job as it stands together with ctx.Err().
func (q *QueueServer[J, R]) WaitJob(ctx context.Context, id string) (*common.Job[J, R], error) {
	ticker := time.NewTicker(waitTick)
	defer ticker.Stop()

	for {
		status := q.CheckJob(id)

		if status == common.NotExist {
			return nil, common.ErrJobNotFound
		}

		if status.Terminal() {
			job, _ := q.GetJob(id)
			return job, nil
		}

		select {
		case <-ctx.Done():
			job, ok := q.GetJob(id)
			if !ok {
				return nil, common.ErrJobNotFound
			}
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AddWaitJob queues req and waits for it like WaitJob.
func (q *QueueServer[J, R]) AddWaitJob(ctx context.Context, req J) (*common.Job[J, R], error) {
	return q.WaitJob(ctx, q.NewJob(req))
}

// ClaimJobs moves every queued job to running and returns the claimed copies.
func (q *QueueServer[J, R]) ClaimJobs() []*common.Job[J, R] {
	q.transitions.Lock()
	defer q.transitions.Unlock()

	var jobs []*common.Job[J, R]

	q.queue.ForEach(func(k string, j *common.Job[J, R]) bool {
		if j.Status == common.Queued {
			claimed := *j
			claimed.Status = common.Running
			claimed.UpdatedAt = q.now()
			q.queue.Set(k, &claimed)

			out := claimed
			jobs = append(jobs, &out)
		}

		return true
	})

	return jobs
}

func (q *QueueServer[J, R]) Len() int {
	return int(q.queue.Len())
}
