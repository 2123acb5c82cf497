package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeUpstream = "upstream_error"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// queryRequestsTotal counts /api/search and /api/ask requests,
	// partitioned by operation and outcome.
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records the duration of each search or ask.
	queryDurationSeconds *prometheus.HistogramVec

	// searchResults records how many hits each successful search returned.
	searchResults prometheus.Histogram

	// uploadsTotal counts /api/upload requests by outcome.
	uploadsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts requests rejected by the rate limiter, by route class.
	rateLimitedTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of search and ask requests, partitioned by operation and outcome.",
		}, []string{"operation", "outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of search and ask requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation", "outcome"}),

		searchResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "query",
			Name:      "search_results",
			Help:      "Number of hits returned by successful searches.",
			Buckets:   []float64{0, 1, 3, 5, 10, 25, 50, 100},
		}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "upload",
			Name:      "requests_total",
			Help:      "Total number of /api/upload requests, partitioned by outcome.",
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the per-IP rate limiter, partitioned by route class.",
		}, []string{"class"}),
	}
}

// rateLimited records one rate-limited request.
func (m *serverMetrics) rateLimited(class string) {
	m.rateLimitedTotal.WithLabelValues(class).Inc()
}

// observeQuery records one search or ask outcome.
func (m *serverMetrics) observeQuery(op, outcome string, start time.Time) {
	m.queryRequestsTotal.WithLabelValues(op, outcome).Inc()
	m.queryDurationSeconds.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// instrument wraps h with the per-handler HTTP request counter and latency
// histogram.
func (m *serverMetrics) instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h.ServeHTTP(rw, r)
		m.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
	})
}

// outcomeFor buckets an HTTP status into an outcome label.
func outcomeFor(status int) string {
	switch {
	case status < 400:
		return outcomeOK
	case status == http.StatusGatewayTimeout:
		return outcomeTimeout
	case status == http.StatusBadGateway:
		return outcomeUpstream
	case status < 500:
		return outcomeRejected
	default:
		return outcomeError
	}
}
