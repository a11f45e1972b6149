// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The collectors are package-level and registered on the default registry
// via promauto — the standard client_golang pattern. Label cardinality is
// bounded: route patterns (not raw paths), status codes, model names.
var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "HTTP requests handled, by route and status code.",
	}, []string{"route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Wall time per request, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_tokens_total",
		Help: "Tokens processed, by model and direction (prompt/completion).",
	}, []string{"model", "direction"})
)

// Handler serves the default registry in Prometheus text format.
// Mount it at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTokens records one response's token usage.
func ObserveTokens(model string, promptTokens, completionTokens uint64) {
	TokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
}
