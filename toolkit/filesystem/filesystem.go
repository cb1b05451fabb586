// Package filesystem provides a sandboxed filesystem tool. All paths are
// resolved relative to a workspace root; escapes are rejected before any
// disk access.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steward-labs/steward/engine/tool"
)

const toolName = "filesystem"

// Tool performs read, list, write, mkdir, and delete actions inside a
// workspace root.
type Tool struct {
	root string
}

// New creates a filesystem tool confined to root. The root is resolved to
// an absolute path once at construction.
func New(root string) (*Tool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Tool{root: abs}, nil
}

func (t *Tool) Name() string { return toolName }

func (t *Tool) Description() string {
	return "Read, list, write, create directories, and delete files inside the workspace."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"read", "list", "write", "mkdir", "delete"},
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "File content, required for write",
			},
		},
		"required": []string{"action", "path"},
	}
}

func (t *Tool) RiskHints() tool.RiskHints {
	return tool.RiskHints{
		Destructive:     true,
		HighRiskActions: []string{"delete"},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tool.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	action, err := tool.StringParam(params, "action")
	if err != nil {
		return tool.Fail("%v", err), nil
	}
	rel, err := tool.StringParam(params, "path")
	if err != nil {
		return tool.Fail("%v", err), nil
	}

	path, err := t.resolve(rel)
	if err != nil {
		return tool.Fail("%v", err), nil
	}

	return tool.Timed(func() *tool.Result {
		switch action {
		case "read":
			return t.read(path)
		case "list":
			return t.list(path)
		case "write":
			content := tool.OptionalString(params, "content", "")
			return t.write(path, content)
		case "mkdir":
			return t.mkdir(path)
		case "delete":
			return t.delete(path)
		default:
			return tool.Fail("unknown action: %s", action)
		}
	}), nil
}

// resolve joins rel with the root and rejects anything that escapes it.
func (t *Tool) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	joined := filepath.Join(t.root, rel)
	cleaned := filepath.Clean(joined)
	if cleaned != t.root && !strings.HasPrefix(cleaned, t.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return cleaned, nil
}

func (t *Tool) read(path string) *tool.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return tool.Fail("read %s: %v", path, err)
	}
	return tool.Ok(string(data))
}

func (t *Tool) list(path string) *tool.Result {
	entries, err := os.ReadDir(path)
	if err != nil {
		return tool.Fail("list %s: %v", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return tool.Ok(names)
}

func (t *Tool) write(path, content string) *tool.Result {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tool.Fail("prepare directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return tool.Fail("write %s: %v", path, err)
	}
	return tool.Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

func (t *Tool) mkdir(path string) *tool.Result {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return tool.Fail("mkdir %s: %v", path, err)
	}
	return tool.Ok("created " + path)
}

func (t *Tool) delete(path string) *tool.Result {
	if path == t.root {
		return tool.Fail("refusing to delete the workspace root")
	}
	if err := os.RemoveAll(path); err != nil {
		return tool.Fail("delete %s: %v", path, err)
	}
	return tool.Ok("deleted " + path)
}
