package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks the Session Gateway's
// connected sessions, the Conversation Orchestrator's turns, the Tool
// Coordinator's calls, and the LLM Adapter's request latency.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.ToolCallDuration("host:ping").Observe(time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolCallCounter counts tool calls by qualified name and status.
	// Labels: tool (qualified_name), status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool call latency in seconds.
	// Labels: tool (qualified_name)
	ToolCallDuration *prometheus.HistogramVec

	// ActiveSessions is a gauge tracking currently connected sessions.
	ActiveSessions prometheus.Gauge

	// TurnCounter counts completed conversation turns by outcome.
	// Labels: outcome (ok|tool_hop_limit_exceeded|error)
	TurnCounter *prometheus.CounterVec

	// ToolHopsPerTurn measures how many tool-call round-trips a turn took.
	ToolHopsPerTurn prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// startup; the registered collectors back the /metrics endpoint.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_llm_request_duration_seconds",
				Help:    "Duration of LLM generation requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_requests_total",
				Help: "Total number of LLM generation requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_tool_calls_total",
				Help: "Total number of tool calls by qualified tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_active_sessions",
				Help: "Current number of connected Session Gateway sessions",
			},
		),

		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_turns_total",
				Help: "Total number of completed conversation turns by outcome",
			},
			[]string{"outcome"},
		),

		ToolHopsPerTurn: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conduit_tool_hops_per_turn",
				Help:    "Number of tool-call round-trips a turn used before ending",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8},
			},
		),
	}
}

// RecordLLMRequest records metrics for an LLM generation request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolCall records metrics for one tool call.
func (m *Metrics) RecordToolCall(qualifiedName, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(qualifiedName, status).Inc()
	m.ToolCallDuration.WithLabelValues(qualifiedName).Observe(durationSeconds)
}

// SessionConnected increments the active sessions gauge.
func (m *Metrics) SessionConnected() {
	m.ActiveSessions.Inc()
}

// SessionDisconnected decrements the active sessions gauge.
func (m *Metrics) SessionDisconnected() {
	m.ActiveSessions.Dec()
}

// RecordTurn records a completed turn's outcome and tool-hop count.
func (m *Metrics) RecordTurn(outcome string, toolHops int) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.ToolHopsPerTurn.Observe(float64(toolHops))
}
