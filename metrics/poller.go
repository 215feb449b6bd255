package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pollSessionsTotal, pollFetchesTotal) }

var pollSessionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "poll_sessions_total",
		Help: "Finished job polling sessions, labeled by outcome.",
	},
	[]string{"outcome"}, // completed, job_failed, fetch_error, timeout, stopped
)

var pollFetchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "poll_fetches_total",
		Help: "Job status fetches issued by pollers, labeled by result.",
	},
	[]string{"result"}, // ok, error
)

func IncPollSession(outcome string) {
	pollSessionsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncPollFetch(result string) {
	pollFetchesTotal.WithLabelValues(norm(result)).Inc()
}
