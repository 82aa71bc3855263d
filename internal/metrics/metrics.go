package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	fetchCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapfeed",
			Subsystem: "feed",
			Name:      "fetch_cycles_total",
			Help:      "Total number of price fetch cycles by outcome.",
		},
		[]string{"outcome"},
	)

	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "swapfeed",
			Subsystem: "feed",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of price fetch cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
	)

	catalogTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swapfeed",
			Subsystem: "feed",
			Name:      "catalog_tokens",
			Help:      "Number of tokens in the last published catalog.",
		},
	)

	lastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swapfeed",
			Subsystem: "feed",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch cycle.",
		},
	)

	swaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapfeed",
			Subsystem: "swap",
			Name:      "submissions_total",
			Help:      "Total number of swap submissions by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapfeed",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swapfeed",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		fetchCycles,
		fetchDuration,
		catalogTokens,
		lastSuccess,
		swaps,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one fetch cycle. outcome is "success", "error" or "cancelled".
func ObserveFetch(outcome string, d time.Duration) {
	fetchCycles.WithLabelValues(outcome).Inc()
	fetchDuration.Observe(d.Seconds())
}

// SetCatalog records a published catalog.
func SetCatalog(tokens int, at time.Time) {
	catalogTokens.Set(float64(tokens))
	lastSuccess.Set(float64(at.Unix()))
}

// ObserveSwap records one swap submission outcome.
func ObserveSwap(outcome string) {
	swaps.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records a handled request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
