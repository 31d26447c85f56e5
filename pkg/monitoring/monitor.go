package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 后台评测任务指标：队列深度与任务结果
	AssessmentQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "assessment_queue_depth",
			Help: "Number of assessment tasks waiting in the queue",
		},
	)

	AssessmentTaskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_tasks_total",
			Help: "Total number of background assessment tasks by outcome",
		},
		[]string{"type", "outcome"},
	)

	AssessmentTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assessment_task_duration_seconds",
			Help:    "Duration of background assessment tasks",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"type"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AssessmentQueueDepth)
	prometheus.MustRegister(AssessmentTaskCounter)
	prometheus.MustRegister(AssessmentTaskDuration)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
