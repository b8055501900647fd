package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/monto-broker/broker/internal/metrics"
)

// Metrics records per-request duration and in-flight count against m.HTTP.
func Metrics(m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTP.RequestsInFlight.Inc()
			defer m.HTTP.RequestsInFlight.Dec()

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			m.HTTP.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Observe(time.Since(start).Seconds())
		})
	}
}

// routeTemplate collapses path parameters so the metric's cardinality
// stays bounded regardless of how many distinct paths/services are seen.
func routeTemplate(r *http.Request) string {
	switch {
	case r.URL.Path == "/monto/version":
		return "/monto/version"
	case r.URL.Path == "/monto/events":
		return "/monto/events"
	case len(r.URL.Path) >= len("/monto/broker/") && r.URL.Path[:len("/monto/broker/")] == "/monto/broker/":
		return "/monto/broker/{product_name}"
	default:
		return "/monto/{service_id}/{product_name}"
	}
}
