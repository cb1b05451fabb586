package guardrail

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/steward-labs/steward/engine/audit"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/observability"
	"github.com/steward-labs/steward/engine/plan"
)

var tracer = otel.Tracer("steward/guardrail")

// Outcome is the gate's decision for one evaluation.
type Outcome string

const (
	// OutcomeApproved permits execution with no wait.
	OutcomeApproved Outcome = "approved"
	// OutcomeAutoApprovedLogged permits execution; the decision is always recorded.
	OutcomeAutoApprovedLogged Outcome = "auto_approved_logged"
	// OutcomePendingApproval suspends the step until a human responds.
	OutcomePendingApproval Outcome = "pending_approval"
	// OutcomeDenied terminates the step immediately.
	OutcomeDenied Outcome = "denied"
)

// Decision is one guardrail evaluation. A retried step re-evaluates and
// produces a new Decision.
type Decision struct {
	StepID    string    `json:"step_id"`
	RiskTier  Tier      `json:"risk_tier"`
	Outcome   Outcome   `json:"outcome"`
	Rationale string    `json:"rationale"`
	DecidedAt time.Time `json:"decided_at"`
}

// Engine classifies pending actions against the policy table.
type Engine struct {
	logger logging.Logger
	policy *PolicyTable
	ledger *audit.Ledger
}

// NewEngine creates an Engine. Every evaluation writes exactly one
// GuardrailDecided record to the ledger before the decision is returned.
func NewEngine(logger logging.Logger, policy *PolicyTable, ledger *audit.Ledger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if policy == nil {
		policy = DefaultPolicyTable()
	}
	return &Engine{
		logger: logger.Bind("component", "guardrail"),
		policy: policy,
		ledger: ledger,
	}
}

// Policy returns the engine's policy table.
func (e *Engine) Policy() *PolicyTable {
	return e.policy
}

// Evaluate classifies one step. The audit record is written before any
// downstream action is permitted.
func (e *Engine) Evaluate(ctx context.Context, goalID string, step *plan.Step) (*Decision, error) {
	_, span := tracer.Start(ctx, "guardrail.evaluate")
	span.SetAttributes(
		attribute.String("steward.tool.name", step.ToolName),
		attribute.String("steward.step.id", step.ID),
	)
	defer span.End()

	action := step.ActionKind()
	tier, mapped := e.policy.Lookup(step.ToolName, action)

	decision := &Decision{
		StepID:    step.ID,
		RiskTier:  tier,
		DecidedAt: time.Now().UTC(),
	}

	switch tier {
	case TierAutoApprove:
		decision.Outcome = OutcomeApproved
		decision.Rationale = fmt.Sprintf("policy maps %s.%s to auto_approve", step.ToolName, action)
	case TierLogAndApprove:
		decision.Outcome = OutcomeAutoApprovedLogged
		decision.Rationale = fmt.Sprintf("policy maps %s.%s to log_and_approve", step.ToolName, action)
	case TierRequireApproval:
		decision.Outcome = OutcomePendingApproval
		if mapped {
			decision.Rationale = fmt.Sprintf("policy maps %s.%s to require_approval", step.ToolName, action)
		} else {
			decision.Rationale = fmt.Sprintf("no policy for %s.%s, failing closed to require_approval", step.ToolName, action)
		}
	case TierDeny:
		decision.Outcome = OutcomeDenied
		decision.Rationale = fmt.Sprintf("policy maps %s.%s to deny", step.ToolName, action)
	}

	if !mapped {
		e.logger.Warn("guardrail_unmapped_action",
			"tool", step.ToolName,
			"action", action,
		)
	}

	if e.ledger != nil {
		if _, err := e.ledger.Append(audit.Record{
			CorrelationID: audit.CorrelationID(goalID, step.ID),
			Kind:          audit.KindGuardrailDecided,
			Payload: map[string]any{
				"tool":      step.ToolName,
				"action":    action,
				"risk_tier": string(tier),
				"outcome":   string(decision.Outcome),
				"rationale": decision.Rationale,
				"attempt":   step.AttemptCount,
			},
		}); err != nil {
			return nil, fmt.Errorf("record guardrail decision: %w", err)
		}
	}

	observability.RecordGuardrailDecision(step.ToolName, string(decision.Outcome))

	e.logger.Info("guardrail_decided",
		"step_id", step.ID,
		"tool", step.ToolName,
		"action", action,
		"tier", string(tier),
		"outcome", string(decision.Outcome),
	)

	return decision, nil
}
