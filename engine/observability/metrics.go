// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the steward engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// GOAL METRICS
// =============================================================================

var (
	goalExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_goal_executions_total",
			Help: "Total number of goal executions",
		},
		[]string{"status"}, // status: done, failed, escalated, cancelled
	)

	goalDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steward_goal_duration_seconds",
			Help:    "Goal execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"status"},
	)
)

// =============================================================================
// STEP METRICS
// =============================================================================

var (
	stepTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_step_transitions_total",
			Help: "Total number of step state transitions",
		},
		[]string{"to"},
	)

	stepRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steward_step_retries_total",
			Help: "Total number of step retries",
		},
	)
)

// =============================================================================
// TOOL METRICS
// =============================================================================

var (
	toolDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_tool_dispatches_total",
			Help: "Total number of tool dispatches",
		},
		[]string{"tool", "status"}, // status: success, error
	)

	toolDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steward_tool_duration_seconds",
			Help:    "Tool dispatch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)
)

// =============================================================================
// GUARDRAIL METRICS
// =============================================================================

var (
	guardrailDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_guardrail_decisions_total",
			Help: "Total number of guardrail decisions",
		},
		[]string{"tool", "outcome"}, // outcome: approved, auto_approved_logged, pending_approval, denied
	)

	approvalWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_approval_wait_seconds",
			Help:    "Time spent waiting for human approval",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)
)

// =============================================================================
// MODEL METRICS
// =============================================================================

var (
	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_model_calls_total",
			Help: "Total number of model invocations",
		},
		[]string{"purpose", "status"}, // purpose: plan, verify; status: success, error
	)

	modelDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steward_model_duration_seconds",
			Help:    "Model invocation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"purpose"},
	)
)

// =============================================================================
// AUDIT METRICS
// =============================================================================

var auditRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "steward_audit_records_total",
		Help: "Total number of audit records appended",
	},
	[]string{"kind"},
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordGoalExecution records goal outcome metrics.
func RecordGoalExecution(status string, duration time.Duration) {
	goalExecutionsTotal.WithLabelValues(status).Inc()
	goalDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepTransition records a step state transition.
func RecordStepTransition(to string) {
	stepTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordStepRetry records a step retry.
func RecordStepRetry() {
	stepRetriesTotal.Inc()
}

// RecordToolDispatch records tool dispatch metrics.
func RecordToolDispatch(tool, status string, duration time.Duration) {
	toolDispatchesTotal.WithLabelValues(tool, status).Inc()
	toolDurationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordGuardrailDecision records a guardrail decision.
func RecordGuardrailDecision(tool, outcome string) {
	guardrailDecisionsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordApprovalWait records time spent awaiting a human approval.
func RecordApprovalWait(duration time.Duration) {
	approvalWaitSeconds.Observe(duration.Seconds())
}

// RecordModelCall records model invocation metrics.
func RecordModelCall(purpose, status string, duration time.Duration) {
	modelCallsTotal.WithLabelValues(purpose, status).Inc()
	modelDurationSeconds.WithLabelValues(purpose).Observe(duration.Seconds())
}

// RecordAuditAppend records an audit ledger append.
func RecordAuditAppend(kind string) {
	auditRecordsTotal.WithLabelValues(kind).Inc()
}
