package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// HTTPRecorder receives per-request HTTP metrics
type HTTPRecorder interface {
	RecordHTTPRequest(method, endpoint, statusCode string, duration float64)
	IncRequestsInFlight(method, endpoint string)
	DecRequestsInFlight(method, endpoint string)
}

// MetricsMiddleware wraps HTTP handlers to collect Prometheus metrics
type MetricsMiddleware struct {
	metrics HTTPRecorder
}

// NewMetricsMiddleware creates a new metrics middleware
func NewMetricsMiddleware(metrics HTTPRecorder) *MetricsMiddleware {
	return &MetricsMiddleware{
		metrics: metrics,
	}
}

// Middleware returns the HTTP middleware function
func (m *MetricsMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		endpoint := normalizeEndpoint(r)
		method := r.Method

		m.metrics.IncRequestsInFlight(method, endpoint)
		defer m.metrics.DecRequestsInFlight(method, endpoint)

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		m.metrics.RecordHTTPRequest(method, endpoint, strconv.Itoa(wrapped.statusCode), duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// normalizeEndpoint labels a request by its route template so ids in the
// path do not explode label cardinality
func normalizeEndpoint(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "":
		return "/"
	case path == "/health", path == "/metrics":
		return path
	default:
		return "unmatched"
	}
}
