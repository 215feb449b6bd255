package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, cacheEvictionsTotal) }

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "result_cache_requests_total",
		Help: "Result cache lookups, labeled by cache and hit/miss.",
	},
	[]string{"cache", "result"},
)

var cacheEvictionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "result_cache_evictions_total",
		Help: "Entries dropped from the result cache after their TTL.",
	},
	[]string{"cache"},
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func AddCacheEvictions(cacheName string, n int) {
	if n <= 0 {
		return
	}
	cacheEvictionsTotal.WithLabelValues(norm(cacheName)).Add(float64(n))
}
