// Package errs defines the error taxonomy for the steward engine.
//
// The taxonomy drives the orchestrator's propagation policy:
//   - transient errors (tool execution, model invocation) are retried locally
//   - structural and policy errors (validation, deny) surface immediately
//   - cancellation propagates without retry
package errs

import (
	"errors"
	"fmt"
)

// =============================================================================
// PLANNING ERRORS
// =============================================================================

// PlanningReason classifies why planning failed.
type PlanningReason string

const (
	ReasonInvalidToolReference  PlanningReason = "invalid_tool_reference"
	ReasonCyclicDependency      PlanningReason = "cyclic_dependency"
	ReasonModelInvocationFailed PlanningReason = "model_invocation_failed"
	ReasonMalformedOutput       PlanningReason = "malformed_output"
)

// PlanningError is raised when plan decomposition or validation fails.
type PlanningError struct {
	Reason  PlanningReason
	Message string
	Cause   error
}

func (e *PlanningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("planning failed (%s): %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("planning failed (%s): %s", e.Reason, e.Message)
}

func (e *PlanningError) Unwrap() error {
	return e.Cause
}

// NewPlanningError creates a new PlanningError.
func NewPlanningError(reason PlanningReason, message string, cause error) *PlanningError {
	return &PlanningError{Reason: reason, Message: message, Cause: cause}
}

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// ValidationError is raised when step parameters violate a tool's schema.
// Never retried: the same parameters will fail the same way.
type ValidationError struct {
	ToolName string
	Detail   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameters for tool '%s' failed schema validation: %s", e.ToolName, e.Detail)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(toolName, detail string) *ValidationError {
	return &ValidationError{ToolName: toolName, Detail: detail}
}

// =============================================================================
// TOOL EXECUTION ERRORS
// =============================================================================

// ToolExecutionError is raised when a tool call fails or times out.
// Retried up to the configured bound.
type ToolExecutionError struct {
	ToolName string
	Timeout  bool
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("tool '%s' timed out", e.ToolName)
	}
	return fmt.Sprintf("tool '%s' failed: %v", e.ToolName, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// NewToolExecutionError creates a new ToolExecutionError.
func NewToolExecutionError(toolName string, timeout bool, cause error) *ToolExecutionError {
	return &ToolExecutionError{ToolName: toolName, Timeout: timeout, Cause: cause}
}

// =============================================================================
// MODEL ERRORS
// =============================================================================

// ModelInvocationError is raised when the external model collaborator fails.
type ModelInvocationError struct {
	Cause error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed: %v", e.Cause)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Cause
}

// NewModelInvocationError creates a new ModelInvocationError.
func NewModelInvocationError(cause error) *ModelInvocationError {
	return &ModelInvocationError{Cause: cause}
}

// =============================================================================
// GUARDRAIL ERRORS
// =============================================================================

// GuardrailDenied is raised when the guardrail engine denies a step.
// Terminal for the step, never retried.
type GuardrailDenied struct {
	StepID    string
	Rationale string
}

func (e *GuardrailDenied) Error() string {
	return fmt.Sprintf("step %s denied by guardrail policy: %s", e.StepID, e.Rationale)
}

// NewGuardrailDenied creates a new GuardrailDenied error.
func NewGuardrailDenied(stepID, rationale string) *GuardrailDenied {
	return &GuardrailDenied{StepID: stepID, Rationale: rationale}
}

// ApprovalTimeout is raised when a human approval window elapses.
// Treated as a denial, terminal.
type ApprovalTimeout struct {
	StepID  string
	Waited  float64 // seconds
}

func (e *ApprovalTimeout) Error() string {
	return fmt.Sprintf("approval for step %s timed out after %.1fs", e.StepID, e.Waited)
}

// NewApprovalTimeout creates a new ApprovalTimeout error.
func NewApprovalTimeout(stepID string, waitedSeconds float64) *ApprovalTimeout {
	return &ApprovalTimeout{StepID: stepID, Waited: waitedSeconds}
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancellationError is raised when a goal is cancelled while steps are in flight.
type CancellationError struct {
	GoalID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("goal %s cancelled", e.GoalID)
}

// NewCancellationError creates a new CancellationError.
func NewCancellationError(goalID string) *CancellationError {
	return &CancellationError{GoalID: goalID}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IsRetryable reports whether the orchestrator may retry after err.
// Validation, guardrail, approval-timeout, and cancellation errors are never
// retryable; tool execution and model invocation errors are.
func IsRetryable(err error) bool {
	var ve *ValidationError
	var gd *GuardrailDenied
	var at *ApprovalTimeout
	var ce *CancellationError
	if errors.As(err, &ve) || errors.As(err, &gd) || errors.As(err, &at) || errors.As(err, &ce) {
		return false
	}
	var te *ToolExecutionError
	var me *ModelInvocationError
	return errors.As(err, &te) || errors.As(err, &me)
}
