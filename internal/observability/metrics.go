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

	routingRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routing_request_duration_seconds",
			Help:    "Duration of routing-worker isochrone requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~17min
		},
		[]string{"kind", "outcome"},
	)

	batchTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_tasks_total",
			Help: "Batch orchestrator task outcomes.",
		},
		[]string{"outcome"},
	)

	storeOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_op_duration_seconds",
			Help:    "Duration of cache store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"op", "outcome"},
	)

	responseCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_total",
			Help: "Click response cache results by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	invalidationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Processed invalidation events by outcome.",
		},
		[]string{"outcome"},
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

// kind is "multi" or "single"; outcome "ok" or "error"
func ObserveRoutingRequest(kind string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	routingRequestDurationSeconds.WithLabelValues(kind, outcome).Observe(durationSeconds)
}

func IncBatchTask(outcome string) {
	batchTasksTotal.WithLabelValues(outcome).Inc()
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOpDurationSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func IncResponseCache(tier, outcome string) {
	responseCacheTotal.WithLabelValues(tier, outcome).Inc()
}

func IncInvalidationEvent(outcome string) {
	invalidationEventsTotal.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
