package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demo_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demo_errors_total",
			Help: "Total number of error responses by type",
		},
		[]string{"type"},
	)
)

var registerGaugesOnce sync.Once

// RegisterSessionGauges exposes the coordinator's session and database
// counts as gauges. Call once at startup; counts is invoked on every
// scrape and takes the global state lock briefly.
func RegisterSessionGauges(counts func() (sessions, databases int)) {
	registerGaugesOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "demo_active_sessions",
			Help: "Number of known sessions, including renamed sessions awaiting teardown",
		}, func() float64 {
			sessions, _ := counts()
			return float64(sessions)
		})
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "demo_active_databases",
			Help: "Number of sessions holding or currently creating a database",
		}, func() float64 {
			_, databases := counts()
			return float64(databases)
		})
	})
}

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)
			path := normalizePath(r)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

			if wrapped.status >= 400 {
				errorType := "client_error"
				if wrapped.status >= 500 {
					errorType = "server_error"
				}
				errorsTotal.WithLabelValues(errorType).Inc()
			}
		})
	}
}

// normalizePath labels metrics with the chi route pattern so label
// cardinality stays bounded even for unmatched request paths.
func normalizePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
