// Package metrics exposes Prometheus collectors for ingestion runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchRequestsTotal      *prometheus.CounterVec
	fetchDurationSeconds    *prometheus.HistogramVec
	pagesTotal              *prometheus.CounterVec
	applicationsTotal       *prometheus.CounterVec
	geocodePostcodesTotal   *prometheus.CounterVec
	rateLimitDelaysSeconds  *prometheus.HistogramVec
	retriesTotal            *prometheus.CounterVec
	throttlesTotal          *prometheus.CounterVec
	councilRunsTotal        *prometheus.CounterVec
	shardWritesTotal        *prometheus.CounterVec
	activeWorkers           prometheus.Gauge
	runDurationSeconds      prometheus.Gauge
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_fetch_requests_total",
				Help: "Outbound portal and geocoder requests, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planwatch_fetch_duration_seconds",
				Help:    "Latency of outbound requests, labeled by host.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_pages_total",
				Help: "Search result pages processed, labeled by council and outcome.",
			},
			[]string{"council", "outcome"},
		)

		applicationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_applications_total",
				Help: "Applications seen, labeled by council and kind (fetched, new, updated, rejected, unplaceable).",
			},
			[]string{"council", "kind"},
		)

		geocodePostcodesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_geocode_postcodes_total",
				Help: "Postcodes handled by the geocoder, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planwatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_retries_total",
				Help: "Retried requests, labeled by limiter key.",
			},
			[]string{"key"},
		)

		throttlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_throttles_total",
				Help: "Rate reductions triggered by HTTP 429, labeled by limiter key.",
			},
			[]string{"key"},
		)

		councilRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_council_runs_total",
				Help: "Council runs completed, labeled by council and status.",
			},
			[]string{"council", "status"},
		)

		shardWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_shard_writes_total",
				Help: "Shard file writes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "planwatch_active_workers",
				Help: "Number of workers currently processing a council.",
			},
		)

		runDurationSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "planwatch_run_duration_seconds",
				Help: "Wall-clock duration of the last run.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// Push sends the current state of the default registry to a Pushgateway.
func Push(ctx context.Context, gatewayURL, job, runID string) error {
	Init()
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// ObserveFetch records one outbound request. code is 0 for transport errors.
func ObserveFetch(rawURL string, code int, duration time.Duration) {
	Init()
	host := SanitizeHost(rawURL)
	fetchRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
	fetchDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObservePage records a processed result page.
func ObservePage(council, outcome string) {
	Init()
	pagesTotal.WithLabelValues(council, outcome).Inc()
}

// ObserveApplications adds n to the applications counter for kind.
func ObserveApplications(council, kind string, n int) {
	if n <= 0 {
		return
	}
	Init()
	applicationsTotal.WithLabelValues(council, kind).Add(float64(n))
}

// ObserveGeocode adds n postcodes with the given outcome.
func ObserveGeocode(outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	geocodePostcodesTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveRetry counts a retried attempt.
func ObserveRetry(key string) {
	Init()
	retriesTotal.WithLabelValues(key).Inc()
}

// ObserveThrottle counts a 429-driven rate reduction.
func ObserveThrottle(key string) {
	Init()
	throttlesTotal.WithLabelValues(key).Inc()
}

// ObserveCouncilRun counts a finished council.
func ObserveCouncilRun(council, status string) {
	Init()
	councilRunsTotal.WithLabelValues(council, status).Inc()
}

// ObserveShardWrite counts a shard write attempt.
func ObserveShardWrite(outcome string) {
	Init()
	shardWritesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetRunDuration records how long the last run took.
func SetRunDuration(d time.Duration) {
	Init()
	runDurationSeconds.Set(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
