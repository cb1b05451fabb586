// Package tool provides the tool protocol contract, registry, and dispatcher.
//
// Every external capability (GitHub, filesystem, web search, code execution)
// satisfies the same Contract: a name, a parameter schema, risk hints, and a
// single Execute operation that never panics across the boundary.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Result is the normalized outcome of one dispatch attempt. Never mutated.
type Result struct {
	Success    bool           `json:"success"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Ok creates a successful Result.
func Ok(output any) *Result {
	return &Result{Success: true, Output: output}
}

// Fail creates a failed Result.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// RiskHints declares a tool's self-reported risk posture. The guardrail
// policy table is authoritative; hints only inform policy authoring.
type RiskHints struct {
	// ReadOnly marks tools with no side effects.
	ReadOnly bool `json:"read_only"`
	// Destructive marks tools that can delete or overwrite state.
	Destructive bool `json:"destructive"`
	// HighRiskActions lists action kinds the tool considers sensitive.
	HighRiskActions []string `json:"high_risk_actions,omitempty"`
}

// Contract is the uniform tool protocol.
type Contract interface {
	// Name is the unique tool identifier.
	Name() string
	// Description is a human-readable summary, shown to the planner model.
	Description() string
	// InputSchema is a JSON Schema object describing accepted parameters.
	InputSchema() map[string]any
	// RiskHints describes the tool's risk posture.
	RiskHints() RiskHints
	// Execute performs the action. All failures must surface in the Result;
	// an error return is reserved for context cancellation.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// =============================================================================
// Registry
// =============================================================================

// CatalogEntry is a tool descriptor for plan validation and planner prompts.
type CatalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Registry holds registered tools. Closed after startup: registration happens
// once, lookups are read-only thereafter and freely shared.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Contract
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Contract)}
}

// Register adds a tool. Names must be unique and non-empty.
func (r *Registry) Register(c Contract) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[c.Name()]; exists {
		return fmt.Errorf("tool already registered: %s", c.Name())
	}
	r.tools[c.Name()] = c
	return nil
}

// Resolve returns the contract for a tool name. Fails fast for unknown
// names so plan validation can reject them before any execution begins.
func (r *Registry) Resolve(name string) (Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return c, nil
}

// Catalog returns descriptors sorted by name.
func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CatalogEntry, 0, len(r.tools))
	for _, c := range r.tools {
		out = append(out, CatalogEntry{
			Name:        c.Name(),
			Description: c.Description(),
			InputSchema: c.InputSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// Helpers for tool implementations
// =============================================================================

// StringParam extracts a required string parameter.
func StringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	return s, nil
}

// OptionalString extracts an optional string parameter with a default.
func OptionalString(params map[string]any, key, fallback string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// OptionalInt extracts an optional integer parameter with a default.
// JSON-decoded numbers arrive as float64.
func OptionalInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Timed wraps an execution body, stamping DurationMs on its result.
func Timed(fn func() *Result) *Result {
	start := time.Now()
	res := fn()
	if res != nil {
		res.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
	}
	return res
}
