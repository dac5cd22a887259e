// Package metrics provides Prometheus instrumentation for the Bot API client.
// It exposes counters for request outcomes and session closes, and a
// histogram for request latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts Bot API requests, labeled by API method and
	// outcome: "ok", "api_error", "transport_error".
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botapi_requests_total",
		Help: "Total number of Bot API requests",
	}, []string{"method", "outcome"})

	// RequestLatency records request round-trip time in seconds.
	RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "botapi_request_latency_seconds",
		Help:    "Bot API request latency in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method"})

	// SessionsClosed counts released transport sessions, labeled by how the
	// release happened: "close" or "collected".
	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botapi_sessions_closed_total",
		Help: "Total number of released transport sessions",
	}, []string{"reason"})

	// CacheLookups counts bot cache lookups by cache name and result.
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botapi_cache_lookups_total",
		Help: "Total number of bot cache lookups",
	}, []string{"cache", "result"})

	// RateLimitRejections counts calls refused before reaching the API.
	RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botapi_rate_limit_rejections_total",
		Help: "Calls refused by the outgoing rate limiter",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestLatency,
		SessionsClosed,
		CacheLookups,
		RateLimitRejections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
