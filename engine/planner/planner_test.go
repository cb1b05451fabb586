package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/engine/errs"
	"github.com/steward-labs/steward/engine/llm"
	"github.com/steward-labs/steward/engine/plan"
	"github.com/steward-labs/steward/engine/tool"
)

// =============================================================================
// Test Helpers
// =============================================================================

// scriptedModel returns canned responses in order, then repeats the last.
type scriptedModel struct {
	responses []string
	err       error
	requests  []llm.Request
}

func (m *scriptedModel) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return &llm.Response{Text: m.responses[idx]}, nil
}

func testCatalog() []tool.CatalogEntry {
	return []tool.CatalogEntry{
		{Name: "filesystem", Description: "files", InputSchema: map[string]any{"type": "object"}},
		{Name: "web_search", Description: "search", InputSchema: map[string]any{"type": "object"}},
	}
}

const twoStepPlan = `[
  {"description": "find docs", "tool_name": "web_search", "parameters": {"query": "go modules"}},
  {"description": "save notes", "tool_name": "filesystem", "action": "write",
   "parameters": {"action": "write", "path": "notes.md", "content": "x"}, "depends_on": [1]}
]`

// =============================================================================
// Plan Tests
// =============================================================================

func TestPlanner_Plan_ParsesStepsAndDependencies(t *testing.T) {
	model := &scriptedModel{responses: []string{twoStepPlan}}
	p := New(nil, model)
	goal := plan.NewGoal("research go modules")

	pl, err := p.Plan(context.Background(), goal, testCatalog())

	require.NoError(t, err)
	assert.Equal(t, goal.ID, pl.GoalID)
	assert.Equal(t, 1, pl.Revision)
	require.Len(t, pl.Steps, 2)

	first, second := pl.Steps[0], pl.Steps[1]
	assert.Equal(t, "web_search", first.ToolName)
	assert.Empty(t, first.DependsOn)
	require.Len(t, second.DependsOn, 1)
	assert.Equal(t, first.ID, second.DependsOn[0], "index 1 must resolve to the first step's id")
	assert.Equal(t, "write", second.Action)
}

func TestPlanner_Plan_StripsMarkdownFences(t *testing.T) {
	fenced := "```json\n" + twoStepPlan + "\n```"
	model := &scriptedModel{responses: []string{fenced}}
	p := New(nil, model)

	pl, err := p.Plan(context.Background(), plan.NewGoal("g"), testCatalog())

	require.NoError(t, err)
	assert.Len(t, pl.Steps, 2)
}

func TestPlanner_Plan_PromptIncludesCatalog(t *testing.T) {
	model := &scriptedModel{responses: []string{twoStepPlan}}
	p := New(nil, model)

	_, err := p.Plan(context.Background(), plan.NewGoal("research go modules"), testCatalog())

	require.NoError(t, err)
	require.Len(t, model.requests, 1)
	assert.Equal(t, "plan", model.requests[0].Purpose)
	assert.Contains(t, model.requests[0].Prompt, "research go modules")
	assert.Contains(t, model.requests[0].Prompt, "web_search")
	assert.Contains(t, model.requests[0].Prompt, "filesystem")
}

// =============================================================================
// Failure Mode Tests
// =============================================================================

func TestPlanner_Plan_ModelFailure(t *testing.T) {
	model := &scriptedModel{err: errors.New("connection refused")}
	p := New(nil, model)

	_, err := p.Plan(context.Background(), plan.NewGoal("g"), testCatalog())

	var pe *errs.PlanningError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errs.ReasonModelInvocationFailed, pe.Reason)
}

func TestPlanner_Plan_MalformedOutput(t *testing.T) {
	cases := map[string]string{
		"not json":          "here is your plan: do things",
		"empty array":       "[]",
		"missing tool_name": `[{"description": "x", "parameters": {}}]`,
		"forward reference": `[{"description": "x", "tool_name": "filesystem", "depends_on": [2]},
		                       {"description": "y", "tool_name": "filesystem"}]`,
		"zero index":        `[{"description": "x", "tool_name": "filesystem", "depends_on": [0]}]`,
		"out of range":      `[{"description": "x", "tool_name": "filesystem", "depends_on": [9]}]`,
	}

	for name, output := range cases {
		t.Run(name, func(t *testing.T) {
			model := &scriptedModel{responses: []string{output}}
			p := New(nil, model)

			_, err := p.Plan(context.Background(), plan.NewGoal("g"), testCatalog())

			var pe *errs.PlanningError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, errs.ReasonMalformedOutput, pe.Reason)
		})
	}
}

func TestPlanner_Plan_UnknownToolReference(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`[{"description": "x", "tool_name": "teleporter", "parameters": {}}]`,
	}}
	p := New(nil, model)

	_, err := p.Plan(context.Background(), plan.NewGoal("g"), testCatalog())

	var pe *errs.PlanningError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errs.ReasonInvalidToolReference, pe.Reason)
}

// =============================================================================
// Replan Tests
// =============================================================================

func TestPlanner_Replan_IncrementsRevisionAndFreshIdentities(t *testing.T) {
	model := &scriptedModel{responses: []string{twoStepPlan, twoStepPlan}}
	p := New(nil, model)
	goal := plan.NewGoal("g")

	first, err := p.Plan(context.Background(), goal, testCatalog())
	require.NoError(t, err)

	failed := first.Steps[1]
	failed.AttemptCount = 3

	second, err := p.Replan(context.Background(), goal, testCatalog(), &ReplanContext{
		FailedStep:  failed,
		ResultError: "disk full",
		Attempts:    3,
		Revision:    first.Revision,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, second.Revision)
	for _, s := range second.Steps {
		for _, old := range first.Steps {
			assert.NotEqual(t, old.ID, s.ID, "replanned steps must have fresh identities")
		}
	}

	// The failure context reaches the model.
	prompt := model.requests[1].Prompt
	assert.Contains(t, prompt, "disk full")
	assert.Contains(t, prompt, "revision 1")
}
