package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diarizer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diarizer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diarizer",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Jobs reaching a terminal status.",
		},
		[]string{"status"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diarizer",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job wall time from start to terminal status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"status"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "diarizer",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		},
	)
	processRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diarizer",
			Subsystem: "process",
			Name:      "runs_total",
			Help:      "External tool invocations by outcome.",
		},
		[]string{"tool", "outcome"},
	)
	processDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diarizer",
			Subsystem: "process",
			Name:      "duration_seconds",
			Help:      "External tool run time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"tool"},
	)
	openAIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diarizer",
			Subsystem: "openai",
			Name:      "requests_total",
			Help:      "OpenAI API calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			jobsTotal, jobDuration, queueDepth,
			processRuns, processDuration,
			openAIRequests,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordJob(status string, duration time.Duration) {
	RegisterMetrics()
	jobsTotal.WithLabelValues(status).Inc()
	jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func SetQueueDepth(n int) {
	RegisterMetrics()
	queueDepth.Set(float64(n))
}

func RecordProcessRun(tool, outcome string, duration time.Duration) {
	RegisterMetrics()
	processRuns.WithLabelValues(tool, outcome).Inc()
	processDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordOpenAIRequest(operation string, err error) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	openAIRequests.WithLabelValues(operation, outcome).Inc()
}
