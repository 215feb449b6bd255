package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fullstylist/jobwatch/common"
)

// maxWait caps the ?wait= long-poll duration.
const maxWait = 30 * time.Second

type submitResponse struct {
	ID string `json:"id"`
}

func (q *QueueServer[J, R]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.router.ServeHTTP(w, r)
}

func (q *QueueServer[J, R]) routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/jobs", q.postJobHandlerFunc)
	r.Get("/jobs/{id}", q.getJobHandlerFunc)

	r.Route("/worker", func(r chi.Router) {
		r.Use(q.requireWorker)
		r.Get("/jobs", q.getNewJobsHandlerFunc)
		r.Post("/results", q.postJobResultsHandlerFunc)
	})

	return r
}

func (q *QueueServer[J, R]) requireWorker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(common.WorkerAuthHeader) != q.authorization {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (q *QueueServer[J, R]) postJobHandlerFunc(w http.ResponseWriter, r *http.Request) {
	var req J

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		q.log.Warn().Err(err).Msg("decode job request")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wait, ok := waitParam(w, r)
	if !ok {
		return
	}
	if wait == 0 {
		q.writeJSON(w, http.StatusCreated, submitResponse{ID: q.NewJob(req)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	// the body carries "id" as well, so plain submit clients decode it unchanged
	job, err := q.AddWaitJob(ctx, req)
	if job == nil {
		q.log.Error().Err(err).Msg("wait for new job")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	q.writeJSON(w, http.StatusCreated, job)
}

// getJobHandlerFunc returns the job. With ?wait=<duration> it holds the request
// until the job is terminal or the wait elapses, then returns the current state.
func (q *QueueServer[J, R]) getJobHandlerFunc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wait, ok := waitParam(w, r)
	if !ok {
		return
	}
	if wait == 0 {
		job, found := q.GetJob(id)
		if !found {
			http.NotFound(w, r)
			return
		}
		q.writeJSON(w, http.StatusOK, job)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	job, err := q.WaitJob(ctx, id)
	if errors.Is(err, common.ErrJobNotFound) {
		http.NotFound(w, r)
		return
	}
	q.writeJSON(w, http.StatusOK, job)
}

// waitParam parses ?wait=. It writes a 400 and returns false when the value is
// not a non-negative duration.
func waitParam(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return 0, true
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		http.Error(w, "wait must be a non-negative duration", http.StatusBadRequest)
		return 0, false
	}

	return min(d, maxWait), true
}

func (q *QueueServer[J, R]) getNewJobsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	jobs := q.ClaimJobs()
	if jobs == nil {
		jobs = []*common.Job[J, R]{}
	}

	q.writeJSON(w, http.StatusOK, jobs)
}

func (q *QueueServer[J, R]) postJobResultsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	var job *common.Job[J, R]

	if err := json.NewDecoder(r.Body).Decode(&job); err != nil || job == nil {
		q.log.Warn().Err(err).Msg("decode job result")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := q.UpdateJob(job)
	switch {
	case errors.Is(err, common.ErrJobNotFound):
		http.NotFound(w, r)
	case errors.Is(err, common.ErrJobTerminal):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		q.log.Error().Err(err).Str("job_id", job.ID).Msg("update job")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (q *QueueServer[J, R]) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		q.log.Error().Err(err).Msg("encode response")
	}
}
