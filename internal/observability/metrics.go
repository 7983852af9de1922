package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application
// metrics (spec §5's resource ceilings: session count, turn latency, tool
// execution, transport and storage load).
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("Read", "success", elapsed.Seconds())
//	defer metrics.RecordBackendRequest("anthropic", "claude-opus-4", "success", elapsed.Seconds(), 120, 480)
type Metrics struct {
	// BackendRequestDuration measures LLM backend call latency in seconds.
	// Labels: provider, model
	BackendRequestDuration *prometheus.HistogramVec

	// BackendRequestCounter counts backend requests by provider, model, status.
	BackendRequestCounter *prometheus.CounterVec

	// BackendTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	BackendTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Buckets chosen for shell/process tools, which run far longer than
	// read/grep tools.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (turn|policy|transport|store), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge of currently open sessions.
	ActiveSessions prometheus.Gauge

	// ParkedTurns is a gauge of turns currently parked awaiting approval.
	ParkedTurns prometheus.Gauge

	// SessionDuration measures session lifetime in seconds, from
	// OpenSession to CloseSession.
	SessionDuration prometheus.Histogram

	// TurnDuration measures one turn's wall-clock time, from SendPrompt
	// (or ResumeTurn) admission to its terminal Outcome.
	// Labels: outcome (completed|parked|cancelled|error)
	TurnDuration *prometheus.HistogramVec

	// TurnIterations records how many model round-trips one turn took
	// before reaching a terminal Outcome, to watch for turns approaching
	// max_turns.
	TurnIterations prometheus.Histogram

	// GatewayRequestDuration measures websocket-gateway request latency.
	// Labels: method (the six spec operations), status
	GatewayRequestDuration *prometheus.HistogramVec

	// GatewayRequestCounter counts gateway requests.
	GatewayRequestCounter *prometheus.CounterVec

	// GatewayConnections is a gauge of currently attached websocket clients.
	GatewayConnections prometheus.Gauge

	// TranscriptAppendDuration measures the Transcript Sink's SQLite
	// append latency in seconds.
	TranscriptAppendDuration prometheus.Histogram

	// PolicyDecisionCounter counts policy decisions by effect.
	// Labels: effect (allow|ask|deny)
	PolicyDecisionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the
// default registry. Call once at daemon startup.
func NewMetrics() *Metrics {
	return &Metrics{
		BackendRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_backend_request_duration_seconds",
				Help:    "Duration of LLM backend requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		BackendRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_backend_requests_total",
				Help: "Total number of LLM backend requests by provider, model, status",
			},
			[]string{"provider", "model", "status"},
		),
		BackendTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_backend_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 600},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_sessions",
				Help: "Current number of open sessions",
			},
		),
		ParkedTurns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_parked_turns",
				Help: "Current number of turns parked awaiting approval",
			},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_session_duration_seconds",
				Help:    "Duration of sessions in seconds, open to close",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_turn_duration_seconds",
				Help:    "Duration of one turn in seconds, by terminal outcome",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		TurnIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_turn_iterations",
				Help:    "Number of model round-trips per turn",
				Buckets: []float64{1, 2, 3, 5, 8, 12, 20},
			},
		),
		GatewayRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_gateway_request_duration_seconds",
				Help:    "Duration of gateway operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "status"},
		),
		GatewayRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_gateway_requests_total",
				Help: "Total number of gateway operations by method and status",
			},
			[]string{"method", "status"},
		),
		GatewayConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_gateway_connections",
				Help: "Current number of attached gateway clients",
			},
		),
		TranscriptAppendDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_transcript_append_duration_seconds",
				Help:    "Duration of transcript sink append operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		PolicyDecisionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_policy_decisions_total",
				Help: "Total number of policy decisions by effect",
			},
			[]string{"effect"},
		),
	}
}

// RecordBackendRequest records metrics for one LLM backend call.
func (m *Metrics) RecordBackendRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.BackendRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.BackendRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.BackendTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.BackendTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for one tool call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionOpened increments the active sessions gauge.
func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active sessions gauge and records the
// session's total lifetime.
func (m *Metrics) SessionClosed(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// TurnParked increments the parked-turns gauge; TurnResumed decrements it.
func (m *Metrics) TurnParked()  { m.ParkedTurns.Inc() }
func (m *Metrics) TurnResumed() { m.ParkedTurns.Dec() }

// RecordTurn records a completed turn's duration, outcome, and iteration
// count.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64, iterations int) {
	m.TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
	m.TurnIterations.Observe(float64(iterations))
}

// RecordGatewayRequest records one gateway operation's latency and outcome.
func (m *Metrics) RecordGatewayRequest(method, status string, durationSeconds float64) {
	m.GatewayRequestCounter.WithLabelValues(method, status).Inc()
	m.GatewayRequestDuration.WithLabelValues(method, status).Observe(durationSeconds)
}

// GatewayClientAttached/GatewayClientDetached track the gateway
// connections gauge.
func (m *Metrics) GatewayClientAttached() { m.GatewayConnections.Inc() }
func (m *Metrics) GatewayClientDetached() { m.GatewayConnections.Dec() }

// RecordTranscriptAppend records one transcript sink append's latency.
func (m *Metrics) RecordTranscriptAppend(durationSeconds float64) {
	m.TranscriptAppendDuration.Observe(durationSeconds)
}

// RecordPolicyDecision increments the policy decision counter for effect.
func (m *Metrics) RecordPolicyDecision(effect string) {
	m.PolicyDecisionCounter.WithLabelValues(effect).Inc()
}
