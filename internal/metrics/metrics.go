// Package metrics centralizes the broker's Prometheus instrumentation,
// scoped to the categories that matter for a Monto broker: cache,
// resolver, HTTP, and service-connection activity. Adapted from the
// teacher's business/technical/infra category split.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "monto_broker"

// Registry groups all broker metrics by category, all registered by New
// against a caller-supplied prometheus.Registerer.
type Registry struct {
	Cache    CacheMetrics
	Resolver ResolverMetrics
	HTTP     HTTPMetrics
	Service  ServiceMetrics
}

// CacheMetrics instruments ProductCache hit/miss/invalidate activity.
type CacheMetrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Puts          prometheus.Counter
	Invalidations prometheus.Counter
}

// ResolverMetrics instruments the resolution algorithm.
type ResolverMetrics struct {
	ResolveDuration   prometheus.Histogram
	UnmetDependencies prometheus.Counter
	NoProgressAborts  prometheus.Counter
	Errors            *prometheus.CounterVec // labeled by error kind
}

// HTTPMetrics instruments the ClientAPI HTTP surface.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec // labeled by route, method, status
	RequestsInFlight prometheus.Gauge
}

// ServiceMetrics instruments outbound ServiceConn activity.
type ServiceMetrics struct {
	RequestDuration *prometheus.HistogramVec // labeled by service, outcome
	ConnectFailures *prometheus.CounterVec   // labeled by service
}

// New registers and returns a Registry against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registerer.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		Cache: CacheMetrics{
			Hits:          factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "hits_total", Help: "Product cache hits."}),
			Misses:        factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "misses_total", Help: "Product cache misses."}),
			Puts:          factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "puts_total", Help: "Product cache entries written."}),
			Invalidations: factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "invalidations_total", Help: "Cache entries invalidated by filesystem events."}),
		},
		Resolver: ResolverMetrics{
			ResolveDuration:   factory.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Subsystem: "resolver", Name: "resolve_duration_seconds", Help: "Time spent in Resolver.Resolve.", Buckets: prometheus.DefBuckets}),
			UnmetDependencies: factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "resolver", Name: "unmet_dependencies_total", Help: "UnmetDependency errors handled."}),
			NoProgressAborts:  factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "resolver", Name: "no_progress_aborts_total", Help: "Resolutions aborted due to repeated non-progress."}),
			Errors:            factory.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: "resolver", Name: "errors_total", Help: "Resolver errors by kind."}, []string{"kind"}),
		},
		HTTP: HTTPMetrics{
			RequestDuration:  factory.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds", Help: "ClientAPI request duration.", Buckets: prometheus.DefBuckets}, []string{"route", "method", "status"}),
			RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "http", Name: "requests_in_flight", Help: "ClientAPI requests currently being served."}),
		},
		Service: ServiceMetrics{
			RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: "service", Name: "request_duration_seconds", Help: "Outbound ServiceConn request duration.", Buckets: prometheus.DefBuckets}, []string{"service", "outcome"}),
			ConnectFailures: factory.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: "service", Name: "connect_failures_total", Help: "Negotiation/transport failures per service."}, []string{"service"}),
		},
	}
}
