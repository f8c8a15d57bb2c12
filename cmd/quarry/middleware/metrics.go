package middleware

import (
	"net/http"
	"strconv"
)

// MetricsCollector defines the interface for collecting metrics.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() float64
}

// MetricsMiddleware provides metrics collection middleware.
type MetricsMiddleware struct {
	collector MetricsCollector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector MetricsCollector) *MetricsMiddleware {
	return &MetricsMiddleware{
		collector: collector,
	}
}

// Handler records request counts and latency per route pattern. It must run
// inside any middleware that replaces the request, so the mux fills in
// r.Pattern on the same request it sees.
func (m *MetricsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := m.collector.StartTimer("http_request_duration")
		rec := newRecorder(w)

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		duration := timer.Stop()
		m.collector.RecordHistogram("http_request_duration_seconds", duration, "method", r.Method, "route", route)
		m.collector.IncrementCounter("http_requests_total", "method", r.Method, "route", route, "code", strconv.Itoa(rec.Status()))
		m.collector.RecordHistogram("http_response_size_bytes", float64(rec.bytes), "route", route)
	})
}
