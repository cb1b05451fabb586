// Package codeexec provides a code execution tool. Every run requires
// human approval under the default guardrail policy; this package only
// bounds execution time and captures output.
package codeexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/steward-labs/steward/engine/tool"
)

const toolName = "code_executor"

const maxCapturedOutput = 64 << 10

// interpreters maps a language name to the command that runs a script on
// stdin.
var interpreters = map[string][]string{
	"python": {"python3", "-"},
	"bash":   {"bash", "-s"},
	"sh":     {"sh", "-s"},
}

// Tool runs scripts through a local interpreter with a hard deadline.
type Tool struct {
	workdir string
	timeout time.Duration
}

// New creates a code execution tool running in workdir.
func New(workdir string, timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tool{workdir: workdir, timeout: timeout}
}

func (t *Tool) Name() string { return toolName }

func (t *Tool) Description() string {
	return "Execute a script in a local interpreter (python, bash, sh) and capture its output."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"language": map[string]any{
				"type": "string",
				"enum": []string{"python", "bash", "sh"},
			},
			"code": map[string]any{
				"type":        "string",
				"description": "The script to execute",
			},
		},
		"required": []string{"language", "code"},
	}
}

func (t *Tool) RiskHints() tool.RiskHints {
	return tool.RiskHints{Destructive: true, HighRiskActions: []string{"*"}}
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tool.Result, error) {
	language, err := tool.StringParam(params, "language")
	if err != nil {
		return tool.Fail("%v", err), nil
	}
	code, err := tool.StringParam(params, "code")
	if err != nil {
		return tool.Fail("%v", err), nil
	}

	argv, known := interpreters[language]
	if !known {
		return tool.Fail("unsupported language: %s", language), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res := tool.Timed(func() *tool.Result {
		cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
		cmd.Dir = t.workdir
		cmd.Stdin = bytes.NewReader([]byte(code))

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		output := map[string]any{
			"stdout": truncate(stdout.String()),
			"stderr": truncate(stderr.String()),
		}

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return &tool.Result{
				Success: false,
				Output:  output,
				Error:   "execution timed out",
			}
		}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				output["exit_code"] = exitErr.ExitCode()
			}
			return &tool.Result{
				Success: false,
				Output:  output,
				Error:   err.Error(),
			}
		}
		output["exit_code"] = 0
		return tool.Ok(output)
	})

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res, nil
}

func truncate(s string) string {
	if len(s) > maxCapturedOutput {
		return s[:maxCapturedOutput] + "\n... output truncated"
	}
	return s
}
