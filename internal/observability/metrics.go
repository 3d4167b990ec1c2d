package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics instruments the gin engine.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tithi_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tithi_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// PassMetrics counts dispatcher pass outcomes.
type PassMetrics struct {
	jobs      *prometheus.CounterVec
	passes    prometheus.Counter
	processed prometheus.Counter
}

func NewPassMetrics() *PassMetrics {
	return &PassMetrics{
		jobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tithi_dispatcher_jobs_total",
			Help: "Notification jobs delivered by outcome.",
		}, []string{"outcome"}),
		passes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tithi_dispatcher_passes_total",
			Help: "Dispatch passes executed.",
		}),
		processed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tithi_dispatcher_jobs_processed_total",
			Help: "Notification jobs claimed by a pass.",
		}),
	}
}

func (m *PassMetrics) RecordPass(processed, sent, failed, dead int) {
	m.passes.Inc()
	m.processed.Add(float64(processed))
	m.jobs.WithLabelValues("sent").Add(float64(sent))
	m.jobs.WithLabelValues("failed").Add(float64(failed))
	m.jobs.WithLabelValues("dead").Add(float64(dead))
}
