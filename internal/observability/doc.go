// Package observability provides monitoring and debugging capabilities for
// the conversational host through metrics, structured logging, and
// distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - LLM generation request latency and outcome by provider/model
//   - Tool call latency and outcome by qualified tool name
//   - Connected session count
//   - Completed conversation turns by outcome, and tool-hop count per turn
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... call the LLM adapter ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds())
//
//	start = time.Now()
//	// ... call a tool ...
//	metrics.RecordToolCall("search:web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "turn completed", "tool_hops", hops)
//	logger.Error(ctx, "llm request failed", "error", err, "api_key", apiKey) // redacted
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track requests across the
// orchestrator, adapters, and tool coordinator:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "conduit",
//	    ServiceVersion: "1.0.0",
//	    Endpoint:       "localhost:4317",
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer llmSpan.End()
//
// # Security Considerations
//
// The logging component automatically redacts API keys, passwords/secrets,
// JWTs, and bearer tokens, both from formatted messages and from map-shaped
// fields (password, secret, api_key, token, authorization, private_key, ...).
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# LLM request latency (95th percentile)
//	histogram_quantile(0.95, rate(conduit_llm_request_duration_seconds_bucket[5m]))
//
//	# Tool call error rate
//	rate(conduit_tool_calls_total{status="error"}[5m])
//
//	# Connected sessions
//	conduit_active_sessions
//
//	# Turns hitting the tool-hop limit
//	rate(conduit_turns_total{outcome="tool_hop_limit_exceeded"}[5m])
package observability
