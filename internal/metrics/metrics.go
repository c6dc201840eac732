// Package metrics registers the Prometheus metrics used by the resilient
// call layer. Import this package (via blank import) from the server entry
// point to register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call-level counters and histograms.
var (
	// CallsTotal counts completed calls labelled by origin and outcome
	// ("success", "cached", "error").
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilientcall_calls_total",
			Help: "Total number of calls processed by the resilient call layer.",
		},
		[]string{"origin", "status"},
	)

	// CallDuration observes end-to-end call latency in seconds, including
	// retries and backoff waits.
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilientcall_call_duration_seconds",
			Help:    "End-to-end call duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"origin"},
	)

	// RetriesTotal counts retry attempts beyond the first, per origin.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilientcall_retries_total",
			Help: "Total retry attempts beyond the initial attempt.",
		},
		[]string{"origin"},
	)

	// CallErrors counts failed calls broken down by origin and error kind
	// ("TIMEOUT", "NETWORK", "HTTP_ERROR", "PARSE_ERROR", "CIRCUIT_OPEN",
	// "ABORTED", "UNKNOWN").
	CallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilientcall_call_errors_total",
			Help: "Total call failures by error kind.",
		},
		[]string{"origin", "kind"},
	)

	// CacheHits counts calls served from the TTL cache without any network
	// attempt.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilientcall_cache_hits_total",
			Help: "Total calls served from the response cache.",
		},
	)

	// CacheMisses counts cacheable calls that had to go to the network.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilientcall_cache_misses_total",
			Help: "Total cacheable calls that missed the response cache.",
		},
	)

	// CircuitBreakerState tracks per-origin circuit state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilientcall_circuit_breaker_state",
			Help: "Circuit breaker state per origin (0=closed 1=open 2=half_open).",
		},
		[]string{"origin"},
	)

	// RateLimitRejections counts inbound requests rejected by the gateway's
	// rate-limit middleware, labelled by key_type ("ip", "token").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilientcall_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
