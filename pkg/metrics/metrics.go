// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks completed chat turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Total chat turns by outcome",
		},
		[]string{"outcome", "tool_used"},
	)

	// LLMStreamDuration tracks model streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "Model streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "pass", "status"},
	)

	// CatalogSearchDuration tracks catalog search latency.
	CatalogSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_search_duration_seconds",
			Help:    "Catalog search call duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)

	// CatalogResults tracks the number of products returned per search.
	CatalogResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_search_results",
			Help:    "Products returned per catalog search",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)

	// StreamConnectionsActive tracks active turn streams.
	StreamConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_stream_connections_active",
			Help: "Number of active chat turn streams",
		},
	)

	// MessagesTotal tracks persisted messages by role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records the outcome of one chat turn.
func RecordTurn(outcome string, toolUsed bool) {
	used := "false"
	if toolUsed {
		used = "true"
	}
	TurnsTotal.WithLabelValues(outcome, used).Inc()
}

// RecordCatalogSearch records one catalog search call.
func RecordCatalogSearch(status string, duration float64, results int) {
	CatalogSearchDuration.WithLabelValues(status).Observe(duration)
	if status == "success" {
		CatalogResults.Observe(float64(results))
	}
}

// IncrementStreamConnections increments the active stream count.
func IncrementStreamConnections() {
	StreamConnectionsActive.Inc()
}

// DecrementStreamConnections decrements the active stream count.
func DecrementStreamConnections() {
	StreamConnectionsActive.Dec()
}
