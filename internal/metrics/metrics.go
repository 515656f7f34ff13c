// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	artifactObjectsTotal       *prometheus.CounterVec
	partitionsTotal            *prometheus.CounterVec
	normalizedRecordsTotal     *prometheus.CounterVec
	stageRunsTotal             *prometheus.CounterVec
	activeRuns                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Case records emitted by the harvest stage, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		artifactObjectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_artifact_objects_total",
				Help: "Raw artifacts handled, labeled by outcome (stored, skipped, failed).",
			},
			[]string{"outcome"},
		)

		partitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_partitions_total",
				Help: "Month partitions crawled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		normalizedRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_normalized_records_total",
				Help: "Records handled by the normalize stage, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		stageRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_stage_runs_total",
				Help: "Stage runs, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_runs",
				Help: "Number of stage runs currently executing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRecord counts an emitted case record.
func ObserveRecord(category string, outcome string) {
	Init()
	recordsTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveArtifact counts a raw artifact by outcome.
func ObserveArtifact(outcome string) {
	Init()
	artifactObjectsTotal.WithLabelValues(outcome).Inc()
}

// ObservePartition counts a crawled partition by outcome.
func ObservePartition(outcome string) {
	Init()
	partitionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveNormalized counts a record handled by the normalize stage.
func ObserveNormalized(outcome string) {
	Init()
	normalizedRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStageRun counts a finished stage run.
func ObserveStageRun(stage string, status string) {
	Init()
	stageRunsTotal.WithLabelValues(stage, status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
