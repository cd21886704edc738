package transformproxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestServedFromCacheCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requests_served_from_cache",
			Help: "Number of requests served from the local disk cache.",
		})
	upstreamRequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests",
			Help: "Requests sent to the transformation API, by phase.",
		}, []string{"phase"})
	upstreamErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upstream_request_errors",
		Help: "Total transformation API transport failures",
	})
	remoteImageFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remote_image_fetch_errors",
		Help: "Total original image fetch failures",
	})
	cacheWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_write_errors",
		Help: "Total failures storing transformed images on disk",
	})
	httpRequestsResponseTime = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "http",
		Name:      "response_time_seconds",
		Help:      "Request response times",
	})
)

func init() {
	prometheus.MustRegister(requestServedFromCacheCount)
	prometheus.MustRegister(upstreamRequestCount)
	prometheus.MustRegister(upstreamErrors)
	prometheus.MustRegister(remoteImageFetchErrors)
	prometheus.MustRegister(cacheWriteErrors)
	prometheus.MustRegister(httpRequestsResponseTime)
}
