// Package verify judges tool results against a step's expected outcome.
//
// Structural predicates (contains, equals, success-only) are checked locally;
// anything else is a judgment call delegated to the external model. A model
// failure or unparseable verdict yields Inconclusive, which retries like a
// failure but stays distinguishable in the audit trail.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steward-labs/steward/engine/llm"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/plan"
	"github.com/steward-labs/steward/engine/tool"
)

// Status is a verification verdict.
type Status string

const (
	StatusVerified     Status = "verified"
	StatusFailed       Status = "failed"
	StatusInconclusive Status = "inconclusive"
)

// Verdict is the result of one verification.
type Verdict struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

// Retryable reports whether this verdict sends the step back through retry.
// Inconclusive is treated identically to Failed here.
func (v *Verdict) Retryable() bool {
	return v.Status == StatusFailed || v.Status == StatusInconclusive
}

const judgeSystemPrompt = `You judge whether a tool result satisfies a step's intent within a larger
goal. Respond with JSON only: {"verdict": "verified" | "failed", "reason": "..."}`

// Verifier compares tool results against expected outcomes.
type Verifier struct {
	logger logging.Logger
	model  llm.ModelClient
}

// New creates a Verifier. The model may be nil, in which case only
// structural predicates can be judged and everything else is Inconclusive.
func New(logger logging.Logger, model llm.ModelClient) *Verifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Verifier{
		logger: logger.Bind("component", "verifier"),
		model:  model,
	}
}

// Verify judges one result.
func (v *Verifier) Verify(ctx context.Context, goal *plan.Goal, step *plan.Step, result *tool.Result) *Verdict {
	if result == nil {
		return &Verdict{Status: StatusFailed, Reason: "no result to verify"}
	}
	if !result.Success {
		return &Verdict{Status: StatusFailed, Reason: fmt.Sprintf("tool reported failure: %s", result.Error)}
	}

	if step.ExpectedOutcome.IsStructural() {
		return v.structural(step.ExpectedOutcome, result)
	}
	return v.judge(ctx, goal, step, result)
}

// structural evaluates declared predicates without the model.
func (v *Verifier) structural(expected *plan.ExpectedOutcome, result *tool.Result) *Verdict {
	output := renderOutput(result.Output)

	switch {
	case expected.Equals != "":
		if output == expected.Equals {
			return &Verdict{Status: StatusVerified, Reason: "output equals expected value"}
		}
		return &Verdict{Status: StatusFailed, Reason: "output does not equal expected value"}
	case expected.Contains != "":
		if strings.Contains(output, expected.Contains) {
			return &Verdict{Status: StatusVerified, Reason: fmt.Sprintf("output contains %q", expected.Contains)}
		}
		return &Verdict{Status: StatusFailed, Reason: fmt.Sprintf("output missing %q", expected.Contains)}
	default: // SuccessOnly
		return &Verdict{Status: StatusVerified, Reason: "tool returned success"}
	}
}

// judge delegates the call to the model.
func (v *Verifier) judge(ctx context.Context, goal *plan.Goal, step *plan.Step, result *tool.Result) *Verdict {
	if v.model == nil {
		return &Verdict{Status: StatusInconclusive, Reason: "no model available for judgment"}
	}

	intent := step.Description
	if step.ExpectedOutcome != nil && step.ExpectedOutcome.Description != "" {
		intent = step.ExpectedOutcome.Description
	}

	prompt := fmt.Sprintf("Goal: %s\nStep intent: %s\nTool: %s\nResult output:\n%s",
		goal.Text, intent, step.ToolName, truncate(renderOutput(result.Output), 4000))

	resp, err := v.model.Invoke(ctx, llm.Request{
		Purpose: "verify",
		System:  judgeSystemPrompt,
		Prompt:  prompt,
	})
	if err != nil {
		v.logger.Warn("verifier_model_failed", "step_id", step.ID, "error", err.Error())
		return &Verdict{Status: StatusInconclusive, Reason: fmt.Sprintf("model judgment unavailable: %v", err)}
	}

	var parsed struct {
		Verdict string `json:"verdict"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Text)), &parsed); err != nil {
		return &Verdict{Status: StatusInconclusive, Reason: "model verdict unparseable"}
	}

	switch strings.ToLower(parsed.Verdict) {
	case "verified":
		return &Verdict{Status: StatusVerified, Reason: parsed.Reason}
	case "failed":
		return &Verdict{Status: StatusFailed, Reason: parsed.Reason}
	default:
		return &Verdict{Status: StatusInconclusive, Reason: fmt.Sprintf("unrecognized verdict %q", parsed.Verdict)}
	}
}

func renderOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

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
