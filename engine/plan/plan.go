// Package plan defines the goal, plan, and step data model.
//
// Key concepts:
//   - Goal: immutable natural-language objective, owns one Plan lifecycle
//   - Plan: ordered steps with dependency edges forming a DAG
//   - Step: unit of tool work driven through the orchestrator state machine
//
// A Plan is created once by the planner and regenerated (a new instance with
// a bumped Revision, never a mutation) on replan.
package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Step Status
// =============================================================================

// StepStatus represents the lifecycle state of a step.
// State transitions:
//
//	Pending -> GuardrailPending -> (Approved -> Executing | Denied)
//	Executing -> Verifying
//	Verifying -> (Done | Retrying -> GuardrailPending | Escalated | Failed)
type StepStatus string

const (
	// StatusPending indicates the step has not been scheduled yet.
	StatusPending StepStatus = "pending"
	// StatusGuardrailPending indicates the step awaits a guardrail decision.
	StatusGuardrailPending StepStatus = "guardrail_pending"
	// StatusApproved indicates the guardrail approved the step.
	StatusApproved StepStatus = "approved"
	// StatusDenied indicates the guardrail denied the step. Terminal.
	StatusDenied StepStatus = "denied"
	// StatusExecuting indicates the tool call is in flight.
	StatusExecuting StepStatus = "executing"
	// StatusVerifying indicates the result is being verified.
	StatusVerifying StepStatus = "verifying"
	// StatusDone indicates the step completed and verified. Terminal.
	StatusDone StepStatus = "done"
	// StatusFailed indicates the step failed beyond recovery. Terminal.
	StatusFailed StepStatus = "failed"
	// StatusRetrying indicates the step will be re-evaluated and re-run.
	StatusRetrying StepStatus = "retrying"
	// StatusEscalated indicates a human must resolve the step.
	StatusEscalated StepStatus = "escalated"
	// StatusCancelled indicates the goal was cancelled. Terminal.
	StatusCancelled StepStatus = "cancelled"
)

// IsTerminal returns true if no further transition is permitted.
func (s StepStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusDenied || s == StatusCancelled
}

// validTransitions enumerates the permitted step state machine edges.
var validTransitions = map[StepStatus][]StepStatus{
	StatusPending:          {StatusGuardrailPending, StatusCancelled},
	StatusGuardrailPending: {StatusApproved, StatusDenied, StatusCancelled},
	StatusApproved:         {StatusExecuting, StatusCancelled},
	StatusExecuting:        {StatusVerifying, StatusCancelled},
	StatusVerifying:        {StatusDone, StatusRetrying, StatusEscalated, StatusFailed, StatusCancelled},
	StatusRetrying:         {StatusGuardrailPending, StatusCancelled},
	StatusEscalated:        {StatusRetrying, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s StepStatus) CanTransition(next StepStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// =============================================================================
// Goal
// =============================================================================

// Goal is an accepted natural-language objective. Immutable once created.
type Goal struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewGoal creates a Goal with a fresh id.
func NewGoal(text string) *Goal {
	return &Goal{
		ID:          "goal_" + uuid.New().String()[:12],
		Text:        text,
		SubmittedAt: time.Now().UTC(),
	}
}

// =============================================================================
// Expected Outcome
// =============================================================================

// ExpectedOutcome declares how a step result should be judged.
// When no structural field is set, verification is delegated to the model.
type ExpectedOutcome struct {
	// Description is the human-readable intent, used in model judgments.
	Description string `json:"description,omitempty"`
	// Contains requires the result output to contain this substring.
	Contains string `json:"contains,omitempty"`
	// Equals requires the result output to equal this string exactly.
	Equals string `json:"equals,omitempty"`
	// SuccessOnly accepts any successful result.
	SuccessOnly bool `json:"success_only,omitempty"`
}

// IsStructural reports whether the outcome can be judged without the model.
func (e *ExpectedOutcome) IsStructural() bool {
	if e == nil {
		return false
	}
	return e.Contains != "" || e.Equals != "" || e.SuccessOnly
}

// =============================================================================
// Step
// =============================================================================

// Step is a single unit of tool work in a plan.
// Mutated only by the orchestrator; dependency edges are immutable after
// plan creation.
type Step struct {
	ID              string           `json:"id"`
	Description     string           `json:"description"`
	ToolName        string           `json:"tool_name"`
	Action          string           `json:"action,omitempty"` // tool action kind, used for guardrail lookup
	Parameters      map[string]any   `json:"parameters"`
	DependsOn       []string         `json:"depends_on,omitempty"`
	ExpectedOutcome *ExpectedOutcome `json:"expected_outcome,omitempty"`

	Status       StepStatus `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
}

// NewStep creates a Step with a fresh id and Pending status.
func NewStep(description, toolName string, params map[string]any) *Step {
	if params == nil {
		params = make(map[string]any)
	}
	return &Step{
		ID:          "step_" + uuid.New().String()[:12],
		Description: description,
		ToolName:    toolName,
		Parameters:  params,
		Status:      StatusPending,
		MaxAttempts: 3,
	}
}

// ActionKind returns the action used for guardrail policy lookup.
// Falls back to the "action" parameter, then the wildcard.
func (s *Step) ActionKind() string {
	if s.Action != "" {
		return s.Action
	}
	if a, ok := s.Parameters["action"].(string); ok && a != "" {
		return a
	}
	return "*"
}

// =============================================================================
// Plan
// =============================================================================

// Plan is an ordered collection of steps with dependency edges.
type Plan struct {
	GoalID    string    `json:"goal_id"`
	Revision  int       `json:"revision"`
	Steps     []*Step   `json:"steps"`
	CreatedAt time.Time `json:"created_at"`

	// Computed at validation time
	topologicalOrder []string
}

// NewPlan creates a Plan for the given goal.
func NewPlan(goalID string, revision int, steps []*Step) *Plan {
	return &Plan{
		GoalID:    goalID,
		Revision:  revision,
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks structural well-formedness: every tool name is in the
// catalog, every dependsOn reference names a step in this plan, and the
// dependency graph is acyclic. Computes the topological order as a side
// effect.
func (p *Plan) Validate(catalog map[string]bool) error {
	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id: %s", s.ID)
		}
		ids[s.ID] = true
	}

	for _, s := range p.Steps {
		if catalog != nil && !catalog[s.ToolName] {
			return fmt.Errorf("step %s references unknown tool '%s'", s.ID, s.ToolName)
		}
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("step %s depends on unknown step '%s'", s.ID, dep)
			}
			if dep == s.ID {
				return fmt.Errorf("step %s cannot depend on itself", s.ID)
			}
		}
	}

	return p.computeOrder()
}

// computeOrder runs Kahn's algorithm for topological sort and cycle detection.
func (p *Plan) computeOrder() error {
	adjacency := make(map[string][]string) // step -> steps that depend on it
	inDegree := make(map[string]int)

	for _, s := range p.Steps {
		adjacency[s.ID] = []string{}
		inDegree[s.ID] = 0
	}
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			adjacency[dep] = append(adjacency[dep], s.ID)
			inDegree[s.ID]++
		}
	}

	queue := make([]string, 0)
	// Seed in declared order so ties resolve deterministically.
	for _, s := range p.Steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	p.topologicalOrder = make([]string, 0, len(p.Steps))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		p.topologicalOrder = append(p.topologicalOrder, current)

		for _, dependent := range adjacency[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(p.topologicalOrder) != len(p.Steps) {
		cycleNodes := []string{}
		for id, degree := range inDegree {
			if degree > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		return fmt.Errorf("dependency cycle detected involving steps: %v", cycleNodes)
	}
	return nil
}

// TopologicalOrder returns the order computed by Validate, or nil.
func (p *Plan) TopologicalOrder() []string {
	return p.topologicalOrder
}

// ReadySteps returns steps whose dependencies have all reached Done and
// which have not themselves started. Retrying steps are ready again.
func (p *Plan) ReadySteps() []*Step {
	done := make(map[string]bool)
	for _, s := range p.Steps {
		if s.Status == StatusDone {
			done[s.ID] = true
		}
	}

	ready := make([]*Step, 0)
	for _, s := range p.Steps {
		if s.Status != StatusPending && s.Status != StatusRetrying {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}

// AllDone reports whether every step reached Done.
func (p *Plan) AllDone() bool {
	for _, s := range p.Steps {
		if s.Status != StatusDone {
			return false
		}
	}
	return true
}

// AllTerminal reports whether every step reached a terminal status.
func (p *Plan) AllTerminal() bool {
	for _, s := range p.Steps {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}
