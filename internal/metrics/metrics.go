// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerVideosStoredTotal      *prometheus.CounterVec
	crawlerChannelRunsTotal       *prometheus.CounterVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerQuotaUsed              prometheus.Gauge
	crawlerArchiveFailuresTotal   prometheus.Counter
	youtubeRequestsTotal          *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of search pages fetched, labeled by crawl mode.",
			},
			[]string{"mode"},
		)

		crawlerVideosStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_videos_stored_total",
				Help: "Total number of raw video records written, labeled by crawl mode.",
			},
			[]string{"mode"},
		)

		crawlerChannelRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_channel_runs_total",
				Help: "Channel crawl attempts, labeled by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Crawl runs, labeled by mode and whether quota halted them.",
			},
			[]string{"mode", "halted"},
		)

		crawlerQuotaUsed = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_quota_used",
				Help: "Quota units consumed in the current daily window.",
			},
		)

		crawlerArchiveFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_archive_failures_total",
				Help: "Raw page archive writes that failed.",
			},
		)

		youtubeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "youtube_requests_total",
				Help: "YouTube Data API calls, labeled by operation and result code.",
			},
			[]string{"operation", "code"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one fetched search page.
func ObservePage(mode string) {
	Init()
	crawlerPagesTotal.WithLabelValues(mode).Inc()
}

// ObserveVideosStored adds n written raw videos.
func ObserveVideosStored(mode string, n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlerVideosStoredTotal.WithLabelValues(mode).Add(float64(n))
}

// ObserveChannelRun counts a finished channel attempt.
func ObserveChannelRun(mode, outcome string) {
	Init()
	crawlerChannelRunsTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveRun counts a finished crawl run.
func ObserveRun(mode string, halted bool) {
	Init()
	crawlerRunsTotal.WithLabelValues(mode, strconv.FormatBool(halted)).Inc()
}

// SetQuotaUsed publishes the latest known quota consumption.
func SetQuotaUsed(used int) {
	Init()
	crawlerQuotaUsed.Set(float64(used))
}

// ObserveArchiveFailure counts a failed raw page archive write.
func ObserveArchiveFailure() {
	Init()
	crawlerArchiveFailuresTotal.Inc()
}

// ObserveYouTubeRequest counts one Data API call. code is 0 for transport errors.
func ObserveYouTubeRequest(operation string, code int) {
	Init()
	youtubeRequestsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(operation string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}
