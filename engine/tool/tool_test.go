package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeTool is a configurable Contract for tests.
type fakeTool struct {
	name    string
	schema  map[string]any
	execute func(ctx context.Context, params map[string]any) (*Result, error)
	calls   int
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool for tests" }
func (f *fakeTool) InputSchema() map[string]any {
	return f.schema
}
func (f *fakeTool) RiskHints() RiskHints { return RiskHints{} }
func (f *fakeTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	f.calls++
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return Ok("done"), nil
}

func newFakeTool(name string) *fakeTool {
	return &fakeTool{name: name}
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeTool("filesystem")))

	c, err := r.Resolve("filesystem")
	require.NoError(t, err)
	assert.Equal(t, "filesystem", c.Name())
}

func TestRegistry_Register_RejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeTool("filesystem")))

	err := r.Register(newFakeTool("filesystem"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Register_RejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(newFakeTool("")))
	assert.Error(t, r.Register(nil))
}

func TestRegistry_Resolve_UnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRegistry_Catalog_SortedByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeTool("web_search")))
	require.NoError(t, r.Register(newFakeTool("filesystem")))
	require.NoError(t, r.Register(newFakeTool("github")))

	catalog := r.Catalog()
	require.Len(t, catalog, 3)
	assert.Equal(t, "filesystem", catalog[0].Name)
	assert.Equal(t, "github", catalog[1].Name)
	assert.Equal(t, "web_search", catalog[2].Name)
}

// =============================================================================
// Param Helper Tests
// =============================================================================

func TestStringParam(t *testing.T) {
	params := map[string]any{"path": "README.md", "count": 3}

	s, err := StringParam(params, "path")
	require.NoError(t, err)
	assert.Equal(t, "README.md", s)

	_, err = StringParam(params, "missing")
	assert.Error(t, err)

	_, err = StringParam(params, "count")
	assert.Error(t, err)
}

func TestOptionalString(t *testing.T) {
	params := map[string]any{"name": "steward", "empty": ""}

	assert.Equal(t, "steward", OptionalString(params, "name", "fallback"))
	assert.Equal(t, "fallback", OptionalString(params, "empty", "fallback"))
	assert.Equal(t, "fallback", OptionalString(params, "missing", "fallback"))
}

func TestOptionalInt_HandlesJSONNumbers(t *testing.T) {
	params := map[string]any{"float": float64(7), "int": 3, "string": "9"}

	assert.Equal(t, 7, OptionalInt(params, "float", 0))
	assert.Equal(t, 3, OptionalInt(params, "int", 0))
	assert.Equal(t, 42, OptionalInt(params, "string", 42))
	assert.Equal(t, 42, OptionalInt(params, "missing", 42))
}
