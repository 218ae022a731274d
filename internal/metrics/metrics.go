// Package metrics provides Prometheus metrics for the asset gateway.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetgw_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetgw_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Backend (DAM) metrics
	backendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetgw_backend_call_duration_seconds",
			Help:    "DAM API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	backendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetgw_backend_calls_total",
			Help: "Total DAM API calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	backendLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetgw_backend_logins_total",
			Help: "Total DAM logins",
		},
		[]string{"result"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetgw_cache_lookups_total",
			Help: "Cache lookups by entry kind and result",
		},
		[]string{"kind", "result"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetgw_store_operation_duration_seconds",
			Help:    "Key-value store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetgw_store_operations_total",
			Help: "Total key-value store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Resolution metrics
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetgw_resolutions_total",
			Help: "Identifier resolutions by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	walkDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assetgw_walk_depth",
			Help:    "Number of folder listings performed per path walk",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	// Content transfer metrics
	contentBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetgw_content_bytes_served_total",
			Help: "Total bytes streamed from the content endpoint",
		},
	)

	contentRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetgw_content_requests_total",
			Help: "Total number of content requests",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	route := Route(path)
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Route collapses a request path to its top-level route so asset
// identifiers do not explode label cardinality.
func Route(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	first, _, _ := strings.Cut(trimmed, "/")
	switch first {
	case "a", "f", "health":
		return "/" + first
	default:
		return "other"
	}
}

// RecordBackendCall records a DAM API call. outcome is a short error kind
// such as "ok", "not_found" or "auth".
func RecordBackendCall(operation string, duration time.Duration, outcome string) {
	backendCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
	backendCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordLogin records a DAM login attempt.
func RecordLogin(success bool) {
	backendLoginsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordCacheLookup records a cache lookup. kind is "response" or "pathmap";
// result is "hit", "miss", "expired", "bypass" or "error".
func RecordCacheLookup(kind, result string) {
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordStoreOperation records a key-value store operation.
func RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// RecordResolution records an identifier resolution.
func RecordResolution(strategy string, success bool) {
	resolutionsTotal.WithLabelValues(strategy, statusLabel(success)).Inc()
}

// RecordWalkDepth records how many folders a path walk listed.
func RecordWalkDepth(listings int) {
	walkDepth.Observe(float64(listings))
}

// RecordContentServed records a content request.
func RecordContentServed(bytes int64, success bool) {
	contentBytesServed.Add(float64(bytes))
	contentRequestsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
