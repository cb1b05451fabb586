package websearch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	result string
	err    error
	query  string
}

func (f *fakeSearcher) Call(ctx context.Context, input string) (string, error) {
	f.query = input
	return f.result, f.err
}

func TestTool_Execute_ReturnsDigest(t *testing.T) {
	fs := &fakeSearcher{result: "Go 1.24 released"}
	wt := &Tool{client: fs}

	res, err := wt.Execute(context.Background(), map[string]any{"query": "go release"})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Go 1.24 released", res.Output)
	assert.Equal(t, "go release", fs.query)
}

func TestTool_Execute_MissingQuery(t *testing.T) {
	wt := &Tool{client: &fakeSearcher{}}

	res, err := wt.Execute(context.Background(), map[string]any{})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "query")
}

func TestTool_Execute_SearchFailureIsSoft(t *testing.T) {
	wt := &Tool{client: &fakeSearcher{err: errors.New("network down")}}

	res, err := wt.Execute(context.Background(), map[string]any{"query": "anything"})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "network down")
}

func TestTool_RiskHints_ReadOnly(t *testing.T) {
	wt := &Tool{client: &fakeSearcher{}}
	assert.True(t, wt.RiskHints().ReadOnly)
}
