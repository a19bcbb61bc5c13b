// Package metrics holds the Prometheus collectors shared by the outreach pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoprospect_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoprospect_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	leadTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoprospect_lead_transitions_total",
			Help: "Lead status transitions applied",
		},
		[]string{"from", "to"},
	)

	bulkRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoprospect_bulk_runs_total",
			Help: "Bulk actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	gatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoprospect_gateway_requests_total",
			Help: "AI gateway calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoprospect_gateway_request_duration_seconds",
			Help:    "AI gateway call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op"},
	)
)

// RouteFunc resolves the route pattern for a request after it was served.
type RouteFunc func(r *http.Request) string

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. route keeps label cardinality bounded;
// when nil the raw path is used.
func Middleware(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					path = p
				}
			}
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

func RecordTransition(from, to string) {
	leadTransitions.WithLabelValues(from, to).Inc()
}

func RecordBulkRun(action, outcome string) {
	bulkRuns.WithLabelValues(action, outcome).Inc()
}

func RecordGatewayCall(op, outcome string, elapsed time.Duration) {
	gatewayRequests.WithLabelValues(op, outcome).Inc()
	gatewayDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
