// Package metrics holds the Prometheus collectors exported by RobotFeed.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "robotfeed"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	stageHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stage_hits_total",
			Help:      "Robot feed requests answered by each waterfall stage.",
		},
		[]string{"stage"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache-aside lookups by key kind and result.",
		},
		[]string{"kind", "result"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Durable jobs processed by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	outboxProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "processed_total",
			Help:      "Outbox messages processed by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	Registry.MustRegister(httpRequests, httpDuration, stageHits, cacheLookups, jobsProcessed, outboxProcessed)
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveStage counts a feed answered by the named waterfall stage.
func ObserveStage(stage string) {
	stageHits.WithLabelValues(stage).Inc()
}

// ObserveCache counts a cache lookup; result is "hit", "miss" or "error".
func ObserveCache(kind, result string) {
	cacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveJob counts a processed durable job.
func ObserveJob(kind, outcome string) {
	jobsProcessed.WithLabelValues(kind, outcome).Inc()
}

// ObserveOutbox counts a processed outbox message.
func ObserveOutbox(kind, outcome string) {
	outboxProcessed.WithLabelValues(kind, outcome).Inc()
}
