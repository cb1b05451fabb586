package codeexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTool_ExecutesShellScript(t *testing.T) {
	ce := New(t.TempDir(), 5*time.Second)

	res, err := ce.Execute(context.Background(), map[string]any{
		"language": "sh",
		"code":     "echo hello from steward",
	})

	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	output := res.Output.(map[string]any)
	assert.Contains(t, output["stdout"], "hello from steward")
	assert.Equal(t, 0, output["exit_code"])
}

func TestTool_CapturesNonZeroExit(t *testing.T) {
	ce := New(t.TempDir(), 5*time.Second)

	res, err := ce.Execute(context.Background(), map[string]any{
		"language": "sh",
		"code":     "echo boom >&2; exit 3",
	})

	require.NoError(t, err)
	assert.False(t, res.Success)

	output := res.Output.(map[string]any)
	assert.Contains(t, output["stderr"], "boom")
	assert.Equal(t, 3, output["exit_code"])
}

func TestTool_TimesOut(t *testing.T) {
	ce := New(t.TempDir(), 50*time.Millisecond)

	res, err := ce.Execute(context.Background(), map[string]any{
		"language": "sh",
		"code":     "sleep 5",
	})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestTool_RejectsUnknownLanguage(t *testing.T) {
	ce := New(t.TempDir(), time.Second)

	res, err := ce.Execute(context.Background(), map[string]any{
		"language": "cobol",
		"code":     "DISPLAY 'HI'",
	})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsupported language")
}
