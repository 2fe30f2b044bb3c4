// Package metrics exposes Prometheus collectors for the harvester.
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
	harvesterFetchesTotal           *prometheus.CounterVec
	harvesterBytesTotal             *prometheus.CounterVec
	harvesterSummariesTotal         *prometheus.CounterVec
	harvesterSummaryDurationSeconds *prometheus.HistogramVec
	harvesterRateLimitDelaysSeconds *prometheus.HistogramVec
	harvesterSnapshotsTotal         *prometheus.CounterVec
	harvesterMirrorWritesTotal      *prometheus.CounterVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec
	harvesterScheduledRunsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of article fetches, labeled by site, transport and status.",
			},
			[]string{"site", "transport", "status"},
		)

		harvesterBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		harvesterSummariesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_summaries_total",
				Help: "Total number of summaries produced, labeled by provider and result.",
			},
			[]string{"provider", "result"},
		)

		harvesterSummaryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_summary_duration_seconds",
				Help:    "Histogram of remote summarization latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		)

		harvesterRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"scope"},
		)

		harvesterSnapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_snapshots_total",
				Help: "Raw pages stored after extraction failures, labeled by result.",
			},
			[]string{"result"},
		)

		harvesterMirrorWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_mirror_writes_total",
				Help: "Secondary sink writes, labeled by result.",
			},
			[]string{"result"},
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

		harvesterScheduledRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_scheduled_runs_total",
				Help: "Scheduled harvest runs, labeled by result.",
			},
			[]string{"result"},
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

// ObserveFetch records one article fetch.
func ObserveFetch(rawURL, transport string, status int, bytesFetched int) {
	if harvesterFetchesTotal == nil {
		return
	}
	site := SanitizeSite(rawURL)
	harvesterFetchesTotal.WithLabelValues(site, transport, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		harvesterBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveSummary records one summarization attempt. result is "remote" or "fallback".
func ObserveSummary(provider, result string, duration time.Duration) {
	if harvesterSummariesTotal == nil {
		return
	}
	harvesterSummariesTotal.WithLabelValues(provider, result).Inc()
	if duration > 0 {
		harvesterSummaryDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	if harvesterRateLimitDelaysSeconds == nil {
		return
	}
	harvesterRateLimitDelaysSeconds.WithLabelValues(scope).Observe(duration.Seconds())
}

// ObserveSnapshot records a raw page snapshot attempt.
func ObserveSnapshot(ok bool) {
	if harvesterSnapshotsTotal == nil {
		return
	}
	harvesterSnapshotsTotal.WithLabelValues(result(ok)).Inc()
}

// ObserveMirrorWrite records a secondary sink write.
func ObserveMirrorWrite(ok bool) {
	if harvesterMirrorWritesTotal == nil {
		return
	}
	harvesterMirrorWritesTotal.WithLabelValues(result(ok)).Inc()
}

// ObserveScheduledRun records a scheduled run trigger.
// result is one of "started", "skipped", "failed".
func ObserveScheduledRun(res string) {
	if harvesterScheduledRunsTotal == nil {
		return
	}
	harvesterScheduledRunsTotal.WithLabelValues(res).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
