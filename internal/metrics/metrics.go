// Package metrics exposes Prometheus collectors for the job indexer.
//
// Collectors are registered on first use, so callers never need to call Init
// themselves; the ops server calls it up front so /metrics lists every family
// before the first record moves.
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

const namespace = "jobindexer"

var (
	latencyBuckets    = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	navigationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

	recordsTotal      *prometheus.CounterVec
	navigationSeconds *prometheus.HistogramVec
	indexCallsTotal   *prometheus.CounterVec
	indexCallSeconds  *prometheus.HistogramVec
	workersActive     *prometheus.GaugeVec
	queueOutstanding  prometheus.Gauge
	consumersLost     prometheus.Counter
	rateLimitSeconds  *prometheus.HistogramVec
	robotsFallbacks   *prometheus.CounterVec
	opsRequestsTotal  *prometheus.CounterVec
	opsRequestSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers every collector with the default registry. Repeated calls are no-ops.
func Init() {
	once.Do(register)
}

func register() {
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Job records by pipeline outcome (enqueued, submitted, duplicate, dropped, failed).",
	}, []string{"outcome"})

	navigationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "navigation_duration_seconds",
		Help:      "Page navigation plus content read latency by worker purpose and result.",
		Buckets:   navigationBuckets,
	}, []string{"purpose", "result"})

	indexCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_calls_total",
		Help:      "Index store calls by operation and result.",
	}, []string{"op", "result"})

	indexCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "index_call_duration_seconds",
		Help:      "Index store call latency by operation.",
		Buckets:   latencyBuckets,
	}, []string{"op"})

	workersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_active",
		Help:      "Open workers by purpose.",
	}, []string{"purpose"})

	queueOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_outstanding",
		Help:      "Records enqueued but not yet acknowledged.",
	})

	consumersLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumers_lost_total",
		Help:      "Consumers that terminated with an error and were not replaced.",
	})

	rateLimitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rate_limit_wait_seconds",
		Help:      "Time navigations spent waiting on the per-host rate limit.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"site"})

	robotsFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "robots_fallbacks_total",
		Help:      "robots.txt probes answered with allow-all after repeated timeouts.",
	}, []string{"site"})

	opsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ops_requests_total",
		Help:      "Ops server requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	opsRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ops_request_duration_seconds",
		Help:      "Ops server request latency by method and route.",
		Buckets:   latencyBuckets,
	}, []string{"method", "route"})
}

// Site reduces a URL or bare host to a lowercase hostname suitable as a label
// value, or "unknown".
func Site(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRecord counts a record reaching a pipeline outcome.
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveNavigation records one page load.
func ObserveNavigation(purpose, result string, d time.Duration) {
	Init()
	navigationSeconds.WithLabelValues(purpose, result).Observe(d.Seconds())
}

// ObserveIndexCall records one call against the index store.
func ObserveIndexCall(op string, err error, d time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	indexCallsTotal.WithLabelValues(op, result).Inc()
	indexCallSeconds.WithLabelValues(op).Observe(d.Seconds())
}

func WorkerOpened(purpose string) {
	Init()
	workersActive.WithLabelValues(purpose).Inc()
}

func WorkerStopped(purpose string) {
	Init()
	workersActive.WithLabelValues(purpose).Dec()
}

// SetQueueOutstanding publishes the current outstanding count.
func SetQueueOutstanding(n int) {
	Init()
	queueOutstanding.Set(float64(n))
}

func ObserveConsumerLost() {
	Init()
	consumersLost.Inc()
}

// ObserveRateLimitDelay records how long a navigation to site waited.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	rateLimitSeconds.WithLabelValues(Site(site)).Observe(d.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe for rawURL treated as allow-all.
func ObserveRobotsFallback(rawURL string) {
	Init()
	robotsFallbacks.WithLabelValues(Site(rawURL)).Inc()
}

// ObserveOpsRequest records one request served by the ops server.
func ObserveOpsRequest(method, route string, code int, d time.Duration) {
	Init()
	opsRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	opsRequestSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
