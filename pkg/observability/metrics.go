// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the wandler proxy.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and model.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "model"},
	)

	// RequestDuration records HTTP request duration in seconds by method and model.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wandler_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "model"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wandler_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// BackendRequestsTotal counts calls sent to the backend by outcome.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_backend_requests_total",
			Help: "Backend requests",
		},
		[]string{"backend", "model", "status"},
	)

	// BackendLatency records backend call latency in seconds.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wandler_backend_latency_seconds",
			Help:    "Backend latency",
			Buckets: LLMBuckets,
		},
		[]string{"backend", "model"},
	)

	// TokensTotal counts tokens processed by direction (input/output).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_tokens_total",
			Help: "Token count",
		},
		[]string{"backend", "model", "direction"},
	)

	// StreamRetriesTotal counts streams that hit a mid-stream failure, by
	// disposition (recovered, exhausted, terminal).
	StreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_stream_retries_total",
			Help: "Streams that hit mid-stream failures",
		},
		[]string{"model", "outcome"},
	)

	// ParameterClampsTotal counts request parameters adjusted to fit
	// configured limits.
	ParameterClampsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_parameter_clamps_total",
			Help: "Clamped request parameters",
		},
		[]string{"parameter"},
	)

	// ModelResolutionsTotal counts model mapper outcomes (alias, big_class,
	// small_class, unknown).
	ModelResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_model_resolutions_total",
			Help: "Model mapping outcomes",
		},
		[]string{"outcome"},
	)

	// HealthProbesTotal counts supervisor health probes by outcome.
	HealthProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_health_probes_total",
			Help: "Health probe outcomes",
		},
		[]string{"outcome"},
	)

	// RestartsTotal counts supervisor-initiated server restarts by outcome.
	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_restarts_total",
			Help: "Supervisor restart attempts",
		},
		[]string{"outcome"},
	)

	// ConsecutiveFailures tracks the supervisor's current consecutive
	// probe failure count.
	ConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wandler_consecutive_probe_failures",
			Help: "Consecutive failed health probes",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandler_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		BackendRequestsTotal,
		BackendLatency,
		TokensTotal,
		StreamRetriesTotal,
		ParameterClampsTotal,
		ModelResolutionsTotal,
		HealthProbesTotal,
		RestartsTotal,
		ConsecutiveFailures,
		RateLimitRejectedTotal,
	)
}
