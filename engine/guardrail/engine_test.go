package guardrail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/engine/audit"
	"github.com/steward-labs/steward/engine/plan"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestEngine(t *testing.T) (*Engine, *audit.Ledger) {
	t.Helper()
	ledger, err := audit.NewLedger(nil)
	require.NoError(t, err)
	return NewEngine(nil, DefaultPolicyTable(), ledger), ledger
}

func stepFor(toolName, action string) *plan.Step {
	return plan.NewStep("test step", toolName, map[string]any{"action": action})
}

// =============================================================================
// Evaluate Tests
// =============================================================================

func TestEngine_Evaluate_AutoApprove(t *testing.T) {
	engine, _ := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), "goal-1", stepFor("filesystem", "read"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, decision.Outcome)
	assert.Equal(t, TierAutoApprove, decision.RiskTier)
}

func TestEngine_Evaluate_LogAndApprove(t *testing.T) {
	engine, _ := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), "goal-1", stepFor("filesystem", "write"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoApprovedLogged, decision.Outcome)
}

func TestEngine_Evaluate_RequireApproval(t *testing.T) {
	engine, _ := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), "goal-1", stepFor("filesystem", "delete"))

	require.NoError(t, err)
	assert.Equal(t, OutcomePendingApproval, decision.Outcome)
}

func TestEngine_Evaluate_Deny(t *testing.T) {
	policy := NewPolicyTable()
	policy.Set("filesystem", "delete", TierDeny)
	ledger, err := audit.NewLedger(nil)
	require.NoError(t, err)
	engine := NewEngine(nil, policy, ledger)

	decision, err := engine.Evaluate(context.Background(), "goal-1", stepFor("filesystem", "delete"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, decision.Outcome)
}

func TestEngine_Evaluate_UnmappedFailsClosed(t *testing.T) {
	engine, _ := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), "goal-1", stepFor("mystery_tool", "anything"))

	require.NoError(t, err)
	assert.Equal(t, OutcomePendingApproval, decision.Outcome)
	assert.Contains(t, decision.Rationale, "failing closed")
}

func TestEngine_Evaluate_WritesExactlyOneRecord(t *testing.T) {
	engine, ledger := newTestEngine(t)
	step := stepFor("filesystem", "read")

	_, err := engine.Evaluate(context.Background(), "goal-1", step)
	require.NoError(t, err)

	records := ledger.Query(audit.CorrelationID("goal-1", step.ID))
	require.Len(t, records, 1)
	assert.Equal(t, audit.KindGuardrailDecided, records[0].Kind)
	assert.Equal(t, "filesystem", records[0].Payload["tool"])
	assert.Equal(t, string(OutcomeApproved), records[0].Payload["outcome"])
}

func TestEngine_Evaluate_RetryProducesNewDecision(t *testing.T) {
	engine, ledger := newTestEngine(t)
	step := stepFor("filesystem", "read")

	_, err := engine.Evaluate(context.Background(), "goal-1", step)
	require.NoError(t, err)
	step.AttemptCount = 2
	_, err = engine.Evaluate(context.Background(), "goal-1", step)
	require.NoError(t, err)

	records := ledger.Query(audit.CorrelationID("goal-1", step.ID))
	assert.Len(t, records, 2)
}
