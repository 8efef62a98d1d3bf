package airlock

import (
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promUpstreamRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "A counter of requests sent to the listings service",
		},
		[]string{"operation", "code"},
	)

	promUpstreamDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "A histogram of listings service latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	promCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_events_total",
			Help: "A counter of response cache hits, misses, sets and errors",
		},
		[]string{"cache", "event"},
	)

	// promHTTPInFlightGauge is a gauge of requests currently being served by the wrapped handler
	promHTTPInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "A gauge of requests currently being served",
	})

	// promHTTPRequestCounter is a counter for requests to the wrapped handler
	promHTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_api_requests_total",
			Help: "A counter for served requests",
		},
		[]string{"code"},
	)

	// promHTTPResponseDurations is a histogram of request latencies
	promHTTPResponseDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_duration_seconds",
			Help:    "A histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{},
	)

	// promHTTPRequestSizes is a histogram of request sizes for requests
	promHTTPRequestSizes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "A histogram of request sizes for requests",
			Buckets: prometheus.ExponentialBuckets(128, 2, 10),
		},
		[]string{},
	)

	// promHTTPResponseSizes is a histogram of response sizes for responses.
	promHTTPResponseSizes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "A histogram of response sizes for responses",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
		},
		[]string{},
	)
)

var registerOnce sync.Once

// RegisterMetrics register the prometheus metrics.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(promUpstreamRequestCounter)
		prometheus.MustRegister(promUpstreamDurations)
		prometheus.MustRegister(promCacheEvents)
		prometheus.MustRegister(promHTTPInFlightGauge)
		prometheus.MustRegister(promHTTPRequestCounter)
		prometheus.MustRegister(promHTTPResponseDurations)
		prometheus.MustRegister(promHTTPRequestSizes)
		prometheus.MustRegister(promHTTPResponseSizes)
	})
}

// NewMetricsHandler returns a new Prometheus metrics handler.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)

	return mux
}

func observeUpstream(operation, code string, d time.Duration) {
	promUpstreamRequestCounter.WithLabelValues(operation, code).Inc()
	promUpstreamDurations.WithLabelValues(operation).Observe(d.Seconds())
}

func observeCache(cache, event string) {
	promCacheEvents.WithLabelValues(cache, event).Inc()
}
