package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route, so scanners
// probing random URLs cannot grow label cardinality.
const unmatchedRoute = "unmatched"

var (
	// httpReqs counts finished requests by method, route and status.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_http_requests_total",
			Help: "Finished HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat excludes event streams; their duration is the client's session.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_http_request_duration_seconds",
			Help:    "Duration of non-streaming HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_http_requests_inflight",
			Help: "Non-streaming HTTP requests being served.",
		},
	)

	httpStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_http_event_streams_open",
			Help: "Open server-sent event connections.",
		},
	)

	// Poll views and CSV exports are the large bodies; tallies are small.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpStreams, httpRespSize)
}

// Metrics instruments requests by registered route (c.FullPath()). Event
// streams are recognised by route before the handler runs and tracked on
// their own gauge instead of the in-flight one.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		stream := isStreamRoute(path)
		gauge := httpInflight
		if stream {
			gauge = httpStreams
		}
		gauge.Inc()
		defer gauge.Dec()

		c.Next()

		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		if stream {
			return
		}
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

func isStreamRoute(path string) bool {
	return strings.HasSuffix(path, "/stream")
}
