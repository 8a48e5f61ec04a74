// Package metrics exposes Prometheus collectors for the competitor watcher.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	frontierAdmissionsTotal       *prometheus.CounterVec
	crawlerRetriesTotal           *prometheus.CounterVec
	robotsDenialsTotal            *prometheus.CounterVec
	changeEventsTotal             *prometheus.CounterVec
	scansTotal                    *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerPolitenessWaitsSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of HTML bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		frontierAdmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_admissions_total",
				Help: "Frontier add attempts, labeled by result (admitted or rejected).",
			},
			[]string{"result"},
		)

		crawlerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Failed fetches that were requeued at a lower tier, labeled by site.",
			},
			[]string{"site"},
		)

		robotsDenialsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robots_denials_total",
				Help: "URLs skipped because robots.txt disallowed them, labeled by site.",
			},
			[]string{"site"},
		)

		changeEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "change_events_total",
				Help: "Change-detection events, labeled by domain and kind.",
			},
			[]string{"domain", "kind"},
		)

		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scans_total",
				Help: "Total number of scans finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of fetch workers currently processing a page.",
			},
		)

		crawlerPolitenessWaitsSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_politeness_wait_seconds",
				Help:    "Histogram of per-origin politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

// ObservePage records the outcome of one frontier item ("fetched", "failed", "skipped").
func ObservePage(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAdmission records a frontier add attempt.
func ObserveAdmission(admitted bool) {
	Init()
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	frontierAdmissionsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry records a requeued fetch.
func ObserveRetry(site string) {
	Init()
	crawlerRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRobotsDenial records a URL skipped by robots.txt.
func ObserveRobotsDenial(site string) {
	Init()
	robotsDenialsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveChange records one change-detection event.
func ObserveChange(domain, kind string) {
	Init()
	changeEventsTotal.WithLabelValues(domain, kind).Inc()
}

// ObserveScan increments the scan counter for the given terminal status.
func ObserveScan(status string) {
	Init()
	scansTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObservePolitenessWait records the duration of a per-origin wait.
func ObservePolitenessWait(site string, duration time.Duration) {
	Init()
	crawlerPolitenessWaitsSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
