package guardrail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/engine/errs"
)

// =============================================================================
// Create / Resolve Tests
// =============================================================================

func TestApprovalService_CreateAndResolve(t *testing.T) {
	svc := NewApprovalService(nil)
	req, ch := svc.Create("goal-1", "step-1", "filesystem", "delete", "risky delete", time.Minute)

	assert.Contains(t, req.ID, "apr_")
	assert.Equal(t, RequestStatusPending, req.Status)
	require.NotNil(t, req.ExpiresAt)

	ok := svc.Resolve(req.ID, VerdictApprove, "alice")
	require.True(t, ok)

	resp, err := svc.Await(context.Background(), req, ch)
	require.NoError(t, err)
	assert.Equal(t, VerdictApprove, resp.Verdict)
	assert.Equal(t, "alice", resp.Approver)
}

func TestApprovalService_Resolve_Deny(t *testing.T) {
	svc := NewApprovalService(nil)
	req, ch := svc.Create("goal-1", "step-1", "code_executor", "python", "untrusted code", time.Minute)

	require.True(t, svc.Resolve(req.ID, VerdictDeny, "bob"))

	resp, err := svc.Await(context.Background(), req, ch)
	require.NoError(t, err)
	assert.Equal(t, VerdictDeny, resp.Verdict)
}

func TestApprovalService_Resolve_UnknownRequest(t *testing.T) {
	svc := NewApprovalService(nil)
	assert.False(t, svc.Resolve("apr_missing", VerdictApprove, "alice"))
}

func TestApprovalService_Resolve_AlreadyResolved(t *testing.T) {
	svc := NewApprovalService(nil)
	req, _ := svc.Create("goal-1", "step-1", "filesystem", "delete", "", time.Minute)

	require.True(t, svc.Resolve(req.ID, VerdictApprove, "alice"))
	assert.False(t, svc.Resolve(req.ID, VerdictDeny, "bob"))
}

// =============================================================================
// Await Tests
// =============================================================================

func TestApprovalService_Await_TimeoutIsDenial(t *testing.T) {
	svc := NewApprovalService(nil)
	req, ch := svc.Create("goal-1", "step-1", "filesystem", "delete", "", 20*time.Millisecond)

	_, err := svc.Await(context.Background(), req, ch)

	var timeout *errs.ApprovalTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "step-1", timeout.StepID)
	assert.Equal(t, RequestStatusExpired, svc.Get(req.ID).Status)
}

func TestApprovalService_Await_ContextCancellation(t *testing.T) {
	svc := NewApprovalService(nil)
	req, ch := svc.Create("goal-1", "step-1", "filesystem", "delete", "", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Await(ctx, req, ch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RequestStatusCancelled, svc.Get(req.ID).Status)
}

func TestApprovalService_Await_ResolutionAfterDelay(t *testing.T) {
	svc := NewApprovalService(nil)
	req, ch := svc.Create("goal-1", "step-1", "filesystem", "delete", "", time.Minute)

	go func() {
		time.Sleep(10 * time.Millisecond)
		svc.Resolve(req.ID, VerdictApprove, "alice")
	}()

	resp, err := svc.Await(context.Background(), req, ch)
	require.NoError(t, err)
	assert.Equal(t, VerdictApprove, resp.Verdict)
}

// =============================================================================
// Cancellation Tests
// =============================================================================

func TestApprovalService_CancelGoal_CancelsAllPending(t *testing.T) {
	svc := NewApprovalService(nil)
	r1, _ := svc.Create("goal-1", "step-1", "filesystem", "delete", "", time.Minute)
	r2, _ := svc.Create("goal-1", "step-2", "github", "create_repo", "", time.Minute)
	other, _ := svc.Create("goal-2", "step-9", "filesystem", "write", "", time.Minute)

	count := svc.CancelGoal("goal-1", "goal cancelled")

	assert.Equal(t, 2, count)
	assert.Equal(t, RequestStatusCancelled, svc.Get(r1.ID).Status)
	assert.Equal(t, RequestStatusCancelled, svc.Get(r2.ID).Status)
	assert.Equal(t, RequestStatusPending, svc.Get(other.ID).Status)
}

func TestApprovalService_CancelGoal_Idempotent(t *testing.T) {
	svc := NewApprovalService(nil)
	svc.Create("goal-1", "step-1", "filesystem", "delete", "", time.Minute)

	assert.Equal(t, 1, svc.CancelGoal("goal-1", "first"))
	assert.Equal(t, 0, svc.CancelGoal("goal-1", "second"))
	assert.Equal(t, 0, svc.CancelGoal("goal-never-seen", "unknown goal"))
}

// =============================================================================
// Query Tests
// =============================================================================

func TestApprovalService_Pending_ExcludesResolved(t *testing.T) {
	svc := NewApprovalService(nil)
	r1, _ := svc.Create("goal-1", "step-1", "filesystem", "delete", "", time.Minute)
	svc.Create("goal-1", "step-2", "github", "create_repo", "", time.Minute)

	svc.Resolve(r1.ID, VerdictApprove, "alice")

	pending := svc.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "step-2", pending[0].StepID)
}

func TestApprovalService_Stats(t *testing.T) {
	svc := NewApprovalService(nil)
	r1, _ := svc.Create("goal-1", "step-1", "filesystem", "delete", "", time.Minute)
	svc.Create("goal-1", "step-2", "github", "create_repo", "", time.Minute)
	svc.Resolve(r1.ID, VerdictApprove, "alice")

	stats := svc.Stats()
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, 1, stats["resolved"])
}
