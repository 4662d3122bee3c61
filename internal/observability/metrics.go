// Package observability registers and records Prometheus metrics for the
// data layer.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Provider operations by outcome.",
		},
		[]string{"provider", "operation", "outcome"},
	)

	providerLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_latency_seconds",
			Help:    "Latency of provider operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"provider", "operation"},
	)

	breakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_open_total",
			Help: "Circuit breaker open transitions per provider.",
		},
		[]string{"provider"},
	)

	failoverTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_failover_total",
			Help: "Requests answered by a provider other than the first in the chain.",
		},
		[]string{"operation"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of cache store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "ok"},
	)

	fusionCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_cycles_total",
			Help: "Fusion cycles by outcome.",
		},
		[]string{"outcome"},
	)

	fusionSegments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fusion_segments",
			Help: "Segments currently held by the fusion engine.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveProviderOp(provider, operation string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	providerLatencySeconds.WithLabelValues(provider, operation).Observe(durationSeconds)
}

func IncBreakerOpen(provider string) {
	breakerOpenTotal.WithLabelValues(provider).Inc()
}

func IncFailover(operation string) {
	failoverTotal.WithLabelValues(operation).Inc()
}

// outcome: fresh, stale, miss
func IncCacheResult(category, outcome string) {
	cacheResults.WithLabelValues(category, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	ok := "true"
	if err != nil {
		ok = "false"
	}
	cacheOpDurationSeconds.WithLabelValues(op, ok).Observe(durationSeconds)
}

// outcome: ok, skipped, offline, error
func IncFusionCycle(outcome string) {
	fusionCyclesTotal.WithLabelValues(outcome).Inc()
}

func SetFusionSegments(n int) {
	fusionSegments.Set(float64(n))
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
