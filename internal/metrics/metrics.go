// Package metrics exposes Prometheus collectors for the crawl pipeline and query API.
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
	crawlRunsTotal             *prometheus.CounterVec
	crawlRunDurationSeconds    prometheus.Histogram
	crawlInProgress            prometheus.Gauge
	pagesFetchedTotal          *prometheus.CounterVec
	bytesFetchedTotal          *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	parseMissesTotal           *prometheus.CounterVec
	itemsProcessedTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animeguide_crawl_runs_total",
				Help: "Total number of crawl cycles, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "animeguide_crawl_run_duration_seconds",
				Help:    "Histogram of crawl cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		crawlInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "animeguide_crawl_in_progress",
				Help: "1 while a crawl cycle is running.",
			},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animeguide_pages_fetched_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		bytesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animeguide_bytes_fetched_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animeguide_fetch_retries_total",
				Help: "Total number of retried fetch attempts, labeled by site and reason.",
			},
			[]string{"site", "reason"},
		)

		parseMissesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animeguide_parse_misses_total",
				Help: "Pages whose expected structure was not found, labeled by page kind.",
			},
			[]string{"page"},
		)

		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animeguide_items_processed_total",
				Help: "Per-anime crawl steps, labeled by step and outcome.",
			},
			[]string{"step", "outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "animeguide_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveRun records a finished crawl cycle.
func ObserveRun(status string, duration time.Duration) {
	Init()
	crawlRunsTotal.WithLabelValues(status).Inc()
	crawlRunDurationSeconds.Observe(duration.Seconds())
}

// SetCrawlInProgress flips the in-progress gauge.
func SetCrawlInProgress(running bool) {
	Init()
	if running {
		crawlInProgress.Set(1)
		return
	}
	crawlInProgress.Set(0)
}

// ObserveFetch counts a page fetch and the bytes it returned.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	pagesFetchedTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		bytesFetchedTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one retried attempt.
func ObserveRetry(rawURL, reason string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL), reason).Inc()
}

// ObserveParseMiss counts a page whose expected structure was absent.
func ObserveParseMiss(page string) {
	Init()
	parseMissesTotal.WithLabelValues(page).Inc()
}

// ObserveItem counts one per-anime crawl step.
func ObserveItem(step, outcome string) {
	Init()
	itemsProcessedTotal.WithLabelValues(step, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
