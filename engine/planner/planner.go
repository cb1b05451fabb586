// Package planner decomposes goals into executable plans.
//
// Reasoning is delegated to the external model; the planner owns prompt
// construction, output parsing, and local structural validation (tool
// references, dependency edges, acyclicity). It never trusts the model's
// structure.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/steward-labs/steward/engine/errs"
	"github.com/steward-labs/steward/engine/llm"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/plan"
	"github.com/steward-labs/steward/engine/tool"
)

var tracer = otel.Tracer("steward/planner")

const systemPrompt = `You are a task planner for an autonomous agent. Given a high-level goal,
decompose it into concrete, ordered steps. Respond with a JSON array only,
no markdown fences or prose. Each element:
{
  "description": "what the step does",
  "tool_name": "which tool to use",
  "action": "the tool action kind",
  "parameters": { ... parameters matching the tool's schema ... },
  "depends_on": [1],
  "expected_outcome": {"description": "...", "contains": "", "success_only": true}
}
depends_on lists 1-based indexes of earlier steps this step needs; omit it
for independent steps. Use only the tools listed below.`

// ReplanContext carries failure context into a replan invocation.
type ReplanContext struct {
	FailedStep  *plan.Step
	ResultError string
	Attempts    int
	Revision    int
}

// Planner produces validated plans from goals.
type Planner struct {
	logger logging.Logger
	model  llm.ModelClient
}

// New creates a Planner.
func New(logger logging.Logger, model llm.ModelClient) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Planner{
		logger: logger.Bind("component", "planner"),
		model:  model,
	}
}

// Plan decomposes a goal against the tool catalog.
func (p *Planner) Plan(ctx context.Context, goal *plan.Goal, catalog []tool.CatalogEntry) (*plan.Plan, error) {
	return p.plan(ctx, goal, catalog, nil)
}

// Replan is the same operation with failure context appended; it always
// produces a fresh Plan with fresh step identities, never reusing stale ones.
func (p *Planner) Replan(ctx context.Context, goal *plan.Goal, catalog []tool.CatalogEntry, rc *ReplanContext) (*plan.Plan, error) {
	return p.plan(ctx, goal, catalog, rc)
}

func (p *Planner) plan(ctx context.Context, goal *plan.Goal, catalog []tool.CatalogEntry, rc *ReplanContext) (*plan.Plan, error) {
	ctx, span := tracer.Start(ctx, "planner.plan")
	span.SetAttributes(attribute.String("steward.goal.id", goal.ID))
	defer span.End()

	prompt, err := p.buildPrompt(goal, catalog, rc)
	if err != nil {
		return nil, err
	}

	resp, err := p.model.Invoke(ctx, llm.Request{
		Purpose: "plan",
		System:  systemPrompt,
		Prompt:  prompt,
	})
	if err != nil {
		return nil, errs.NewPlanningError(errs.ReasonModelInvocationFailed, "model call failed", err)
	}

	steps, err := p.parseSteps(resp.Text)
	if err != nil {
		p.logger.Error("planner_output_malformed",
			"goal_id", goal.ID,
			"error", err.Error(),
		)
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errs.NewPlanningError(errs.ReasonMalformedOutput, "model produced no steps", nil)
	}

	revision := 1
	if rc != nil {
		revision = rc.Revision + 1
	}
	pl := plan.NewPlan(goal.ID, revision, steps)

	names := make(map[string]bool, len(catalog))
	for _, entry := range catalog {
		names[entry.Name] = true
	}
	if err := pl.Validate(names); err != nil {
		reason := errs.ReasonInvalidToolReference
		if strings.Contains(err.Error(), "cycle") {
			reason = errs.ReasonCyclicDependency
		}
		return nil, errs.NewPlanningError(reason, "plan validation failed", err)
	}

	p.logger.Info("plan_created",
		"goal_id", goal.ID,
		"revision", revision,
		"steps", len(steps),
	)
	return pl, nil
}

// buildPrompt assembles the user turn: goal, tool catalog, failure context.
func (p *Planner) buildPrompt(goal *plan.Goal, catalog []tool.CatalogEntry, rc *ReplanContext) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nAvailable tools:\n", goal.Text)

	for _, entry := range catalog {
		schema, err := json.Marshal(entry.InputSchema)
		if err != nil {
			return "", errs.NewPlanningError(errs.ReasonMalformedOutput, "tool schema not serializable", err)
		}
		fmt.Fprintf(&b, "- %s: %s\n  schema: %s\n", entry.Name, entry.Description, schema)
	}

	if rc != nil && rc.FailedStep != nil {
		fmt.Fprintf(&b, "\nThe previous plan (revision %d) failed. Produce a revised plan.\n", rc.Revision)
		fmt.Fprintf(&b, "Failed step: %s (tool %s, action %s) after %d attempts.\nError: %s\n",
			rc.FailedStep.Description, rc.FailedStep.ToolName, rc.FailedStep.ActionKind(),
			rc.Attempts, rc.ResultError)
	}

	return b.String(), nil
}

// rawStep mirrors the JSON the model is asked to emit.
type rawStep struct {
	Description     string                `json:"description"`
	ToolName        string                `json:"tool_name"`
	Action          string                `json:"action"`
	Parameters      map[string]any        `json:"parameters"`
	DependsOn       []int                 `json:"depends_on"`
	ExpectedOutcome *plan.ExpectedOutcome `json:"expected_outcome"`
}

// parseSteps parses the model output into fresh steps. Dependency indexes
// are resolved to generated step ids; forward or out-of-range references
// are malformed output.
func (p *Planner) parseSteps(raw string) ([]*plan.Step, error) {
	cleaned := stripFences(raw)

	var items []rawStep
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, errs.NewPlanningError(errs.ReasonMalformedOutput, "output is not a JSON step array", err)
	}

	steps := make([]*plan.Step, 0, len(items))
	for i, item := range items {
		if item.ToolName == "" {
			return nil, errs.NewPlanningError(errs.ReasonMalformedOutput,
				fmt.Sprintf("step %d has no tool_name", i+1), nil)
		}
		s := plan.NewStep(item.Description, item.ToolName, item.Parameters)
		s.Action = item.Action
		s.ExpectedOutcome = item.ExpectedOutcome

		for _, dep := range item.DependsOn {
			if dep < 1 || dep > i {
				return nil, errs.NewPlanningError(errs.ReasonMalformedOutput,
					fmt.Sprintf("step %d depends on invalid index %d", i+1, dep), nil)
			}
			s.DependsOn = append(s.DependsOn, steps[dep-1].ID)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	cleaned = strings.Join(lines, "\n")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
