package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testCatalog() map[string]bool {
	return map[string]bool{
		"filesystem": true,
		"web_search": true,
		"github":     true,
	}
}

func newTestStep(id, toolName string, deps ...string) *Step {
	s := NewStep("step "+id, toolName, map[string]any{"action": "read"})
	s.ID = id
	s.DependsOn = deps
	return s
}

// =============================================================================
// StepStatus Tests
// =============================================================================

func TestStepStatus_IsTerminal(t *testing.T) {
	terminal := []StepStatus{StatusDone, StatusFailed, StatusDenied, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}

	active := []StepStatus{StatusPending, StatusGuardrailPending, StatusApproved, StatusExecuting, StatusVerifying, StatusRetrying, StatusEscalated}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "expected %s not to be terminal", s)
	}
}

func TestStepStatus_CanTransition_LegalEdges(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusGuardrailPending))
	assert.True(t, StatusGuardrailPending.CanTransition(StatusApproved))
	assert.True(t, StatusGuardrailPending.CanTransition(StatusDenied))
	assert.True(t, StatusApproved.CanTransition(StatusExecuting))
	assert.True(t, StatusExecuting.CanTransition(StatusVerifying))
	assert.True(t, StatusVerifying.CanTransition(StatusDone))
	assert.True(t, StatusVerifying.CanTransition(StatusRetrying))
	assert.True(t, StatusRetrying.CanTransition(StatusGuardrailPending))
	assert.True(t, StatusEscalated.CanTransition(StatusRetrying))
}

func TestStepStatus_CanTransition_IllegalEdges(t *testing.T) {
	assert.False(t, StatusPending.CanTransition(StatusExecuting))
	assert.False(t, StatusDone.CanTransition(StatusRetrying))
	assert.False(t, StatusDenied.CanTransition(StatusApproved))
	assert.False(t, StatusFailed.CanTransition(StatusPending))
	assert.False(t, StatusCancelled.CanTransition(StatusGuardrailPending))
	assert.False(t, StatusExecuting.CanTransition(StatusDone))
}

func TestStepStatus_EveryStatusCancellableUnlessTerminal(t *testing.T) {
	for status := range validTransitions {
		assert.True(t, status.CanTransition(StatusCancelled), "expected %s -> cancelled", status)
	}
}

// =============================================================================
// Goal and Step Tests
// =============================================================================

func TestNewGoal_AssignsIDAndTimestamp(t *testing.T) {
	g := NewGoal("organize the release notes")

	assert.Contains(t, g.ID, "goal_")
	assert.Equal(t, "organize the release notes", g.Text)
	assert.False(t, g.SubmittedAt.IsZero())
}

func TestNewStep_Defaults(t *testing.T) {
	s := NewStep("read the readme", "filesystem", map[string]any{"action": "read", "path": "README.md"})

	assert.Contains(t, s.ID, "step_")
	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, 0, s.AttemptCount)
	assert.Equal(t, 3, s.MaxAttempts)
}

func TestStep_ActionKind(t *testing.T) {
	s := NewStep("x", "filesystem", map[string]any{"action": "delete"})
	assert.Equal(t, "delete", s.ActionKind())

	s.Action = "write"
	assert.Equal(t, "write", s.ActionKind())

	s = NewStep("x", "web_search", map[string]any{"query": "hello"})
	assert.Equal(t, "*", s.ActionKind())
}

// =============================================================================
// Plan Validation Tests
// =============================================================================

func TestPlan_Validate_AcceptsLinearChain(t *testing.T) {
	a := newTestStep("a", "filesystem")
	b := newTestStep("b", "web_search", "a")
	c := newTestStep("c", "github", "b")
	p := NewPlan("goal-1", 1, []*Step{a, b, c})

	require.NoError(t, p.Validate(testCatalog()))
	assert.Equal(t, []string{"a", "b", "c"}, p.TopologicalOrder())
}

func TestPlan_Validate_RejectsUnknownTool(t *testing.T) {
	a := newTestStep("a", "teleporter")
	p := NewPlan("goal-1", 1, []*Step{a})

	err := p.Validate(testCatalog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleporter")
}

func TestPlan_Validate_RejectsDuplicateStepIDs(t *testing.T) {
	a := newTestStep("a", "filesystem")
	dup := newTestStep("a", "web_search")
	p := NewPlan("goal-1", 1, []*Step{a, dup})

	err := p.Validate(testCatalog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestPlan_Validate_RejectsUnknownDependency(t *testing.T) {
	a := newTestStep("a", "filesystem", "ghost")
	p := NewPlan("goal-1", 1, []*Step{a})

	err := p.Validate(testCatalog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestPlan_Validate_RejectsSelfDependency(t *testing.T) {
	a := newTestStep("a", "filesystem", "a")
	p := NewPlan("goal-1", 1, []*Step{a})

	assert.Error(t, p.Validate(testCatalog()))
}

func TestPlan_Validate_RejectsCycle(t *testing.T) {
	a := newTestStep("a", "filesystem", "c")
	b := newTestStep("b", "web_search", "a")
	c := newTestStep("c", "github", "b")
	p := NewPlan("goal-1", 1, []*Step{a, b, c})

	err := p.Validate(testCatalog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestPlan_Validate_DiamondDependencies(t *testing.T) {
	a := newTestStep("a", "filesystem")
	b := newTestStep("b", "web_search", "a")
	c := newTestStep("c", "github", "a")
	d := newTestStep("d", "filesystem", "b", "c")
	p := NewPlan("goal-1", 1, []*Step{a, b, c, d})

	require.NoError(t, p.Validate(testCatalog()))

	order := p.TopologicalOrder()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3])
}

// =============================================================================
// Scheduling Tests
// =============================================================================

func TestPlan_ReadySteps_OnlyDependencyFreeAtStart(t *testing.T) {
	a := newTestStep("a", "filesystem")
	b := newTestStep("b", "web_search", "a")
	c := newTestStep("c", "github")
	p := NewPlan("goal-1", 1, []*Step{a, b, c})
	require.NoError(t, p.Validate(testCatalog()))

	ready := p.ReadySteps()
	ids := make([]string, 0, len(ready))
	for _, s := range ready {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestPlan_ReadySteps_UnblocksWhenDependencyDone(t *testing.T) {
	a := newTestStep("a", "filesystem")
	b := newTestStep("b", "web_search", "a")
	p := NewPlan("goal-1", 1, []*Step{a, b})
	require.NoError(t, p.Validate(testCatalog()))

	a.Status = StatusExecuting
	assert.Empty(t, p.ReadySteps())

	a.Status = StatusDone
	ready := p.ReadySteps()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].ID)
}

func TestPlan_ReadySteps_IncludesRetrying(t *testing.T) {
	a := newTestStep("a", "filesystem")
	p := NewPlan("goal-1", 1, []*Step{a})
	require.NoError(t, p.Validate(testCatalog()))

	a.Status = StatusRetrying
	ready := p.ReadySteps()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)
}

func TestPlan_AllDone_AllTerminal(t *testing.T) {
	a := newTestStep("a", "filesystem")
	b := newTestStep("b", "web_search")
	p := NewPlan("goal-1", 1, []*Step{a, b})
	require.NoError(t, p.Validate(testCatalog()))

	assert.False(t, p.AllDone())
	assert.False(t, p.AllTerminal())

	a.Status = StatusDone
	b.Status = StatusFailed
	assert.False(t, p.AllDone())
	assert.True(t, p.AllTerminal())

	b.Status = StatusDone
	assert.True(t, p.AllDone())
}
