package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/engine/llm"
	"github.com/steward-labs/steward/engine/plan"
	"github.com/steward-labs/steward/engine/tool"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubModel struct {
	text     string
	err      error
	requests []llm.Request
}

func (m *stubModel) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Text: m.text}, nil
}

func stepWithOutcome(outcome *plan.ExpectedOutcome) *plan.Step {
	s := plan.NewStep("collect release notes", "web_search", map[string]any{"query": "x"})
	s.ExpectedOutcome = outcome
	return s
}

func verifyWith(t *testing.T, model llm.ModelClient, outcome *plan.ExpectedOutcome, result *tool.Result) *Verdict {
	t.Helper()
	v := New(nil, model)
	goal := plan.NewGoal("test goal")
	return v.Verify(context.Background(), goal, stepWithOutcome(outcome), result)
}

// =============================================================================
// Structural Verification Tests
// =============================================================================

func TestVerifier_NilResultFails(t *testing.T) {
	verdict := verifyWith(t, nil, nil, nil)

	assert.Equal(t, StatusFailed, verdict.Status)
	assert.True(t, verdict.Retryable())
}

func TestVerifier_ToolFailureFails(t *testing.T) {
	verdict := verifyWith(t, nil, &plan.ExpectedOutcome{SuccessOnly: true}, tool.Fail("disk full"))

	assert.Equal(t, StatusFailed, verdict.Status)
	assert.Contains(t, verdict.Reason, "disk full")
}

func TestVerifier_Contains(t *testing.T) {
	outcome := &plan.ExpectedOutcome{Contains: "v2.1.0"}

	verdict := verifyWith(t, nil, outcome, tool.Ok("released v2.1.0 today"))
	assert.Equal(t, StatusVerified, verdict.Status)

	verdict = verifyWith(t, nil, outcome, tool.Ok("no release yet"))
	assert.Equal(t, StatusFailed, verdict.Status)
}

func TestVerifier_Equals(t *testing.T) {
	outcome := &plan.ExpectedOutcome{Equals: "42"}

	verdict := verifyWith(t, nil, outcome, tool.Ok("42"))
	assert.Equal(t, StatusVerified, verdict.Status)

	verdict = verifyWith(t, nil, outcome, tool.Ok("42!"))
	assert.Equal(t, StatusFailed, verdict.Status)
}

func TestVerifier_EqualsTakesPrecedenceOverContains(t *testing.T) {
	outcome := &plan.ExpectedOutcome{Equals: "exact", Contains: "exa"}

	verdict := verifyWith(t, nil, outcome, tool.Ok("exactly"))
	assert.Equal(t, StatusFailed, verdict.Status, "equals must win over contains")
}

func TestVerifier_SuccessOnly(t *testing.T) {
	verdict := verifyWith(t, nil, &plan.ExpectedOutcome{SuccessOnly: true}, tool.Ok("anything"))
	assert.Equal(t, StatusVerified, verdict.Status)
}

func TestVerifier_StructuralNeverCallsModel(t *testing.T) {
	model := &stubModel{text: `{"verdict": "failed", "reason": "should not be asked"}`}

	verdict := verifyWith(t, model, &plan.ExpectedOutcome{Contains: "yes"}, tool.Ok("yes"))

	assert.Equal(t, StatusVerified, verdict.Status)
	assert.Empty(t, model.requests)
}

// =============================================================================
// Model Judgment Tests
// =============================================================================

func TestVerifier_Judge_Verified(t *testing.T) {
	model := &stubModel{text: `{"verdict": "verified", "reason": "result matches the intent"}`}

	verdict := verifyWith(t, model, &plan.ExpectedOutcome{Description: "find the release date"}, tool.Ok("March 3rd"))

	assert.Equal(t, StatusVerified, verdict.Status)
	assert.Equal(t, "result matches the intent", verdict.Reason)
	require.Len(t, model.requests, 1)
	assert.Equal(t, "verify", model.requests[0].Purpose)
}

func TestVerifier_Judge_Failed(t *testing.T) {
	model := &stubModel{text: `{"verdict": "failed", "reason": "output is unrelated"}`}

	verdict := verifyWith(t, model, nil, tool.Ok("lorem ipsum"))

	assert.Equal(t, StatusFailed, verdict.Status)
	assert.True(t, verdict.Retryable())
}

func TestVerifier_Judge_FencedOutputAccepted(t *testing.T) {
	model := &stubModel{text: "```json\n{\"verdict\": \"verified\", \"reason\": \"ok\"}\n```"}

	verdict := verifyWith(t, model, nil, tool.Ok("data"))

	assert.Equal(t, StatusVerified, verdict.Status)
}

func TestVerifier_Judge_ModelFailureIsInconclusive(t *testing.T) {
	model := &stubModel{err: errors.New("rate limited")}

	verdict := verifyWith(t, model, nil, tool.Ok("data"))

	assert.Equal(t, StatusInconclusive, verdict.Status)
	assert.True(t, verdict.Retryable())
}

func TestVerifier_Judge_UnparseableVerdictIsInconclusive(t *testing.T) {
	model := &stubModel{text: "looks good to me!"}

	verdict := verifyWith(t, model, nil, tool.Ok("data"))

	assert.Equal(t, StatusInconclusive, verdict.Status)
}

func TestVerifier_Judge_NilModelIsInconclusive(t *testing.T) {
	verdict := verifyWith(t, nil, nil, tool.Ok("data"))

	assert.Equal(t, StatusInconclusive, verdict.Status)
	assert.Contains(t, verdict.Reason, "no model")
}
