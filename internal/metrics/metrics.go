// Package metrics defines Prometheus metrics for the jive server.
//
// Metric naming follows Prometheus conventions:
//   - jive_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolCallsTotal counts tool dispatches by tool name and outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_tool_calls_total",
			Help: "Total number of tool calls by tool and status.",
		},
		[]string{"tool", "status"},
	)

	// ToolCallDurationSeconds is a histogram of tool dispatch duration.
	ToolCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jive_tool_call_duration_seconds",
			Help:    "Duration of tool calls in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"tool"},
	)

	// SearchQueriesTotal counts search queries by mode.
	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_search_queries_total",
			Help: "Total search queries by search mode.",
		},
		[]string{"mode"},
	)

	// EmbeddingRequestsTotal counts embedding calls by outcome.
	EmbeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_embedding_requests_total",
			Help: "Total embedding requests by status.",
		},
		[]string{"status"},
	)

	// ExecutionsTotal counts execution records reaching a terminal status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jive_executions_total",
			Help: "Total work item executions by terminal status.",
		},
		[]string{"status"},
	)

	// ResponseTruncationsTotal counts responses the shaper had to reduce.
	ResponseTruncationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jive_response_truncations_total",
			Help: "Total tool responses truncated to fit the response budget.",
		},
	)

	// InFlightToolCalls is the number of tool calls currently executing.
	InFlightToolCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jive_in_flight_tool_calls",
			Help: "Number of tool calls currently executing.",
		},
	)
)

// RecordToolCall records one completed tool dispatch.
func RecordToolCall(tool, status string, duration time.Duration) {
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
	ToolCallDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSearch records a single search query.
func RecordSearch(mode string) {
	SearchQueriesTotal.WithLabelValues(mode).Inc()
}

// RecordEmbedding records a single embedding request.
func RecordEmbedding(status string) {
	EmbeddingRequestsTotal.WithLabelValues(status).Inc()
}

// RecordExecution records an execution reaching a terminal status.
func RecordExecution(status string) {
	ExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordTruncation records one shaped-down response.
func RecordTruncation() {
	ResponseTruncationsTotal.Inc()
}
