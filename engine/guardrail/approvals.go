package guardrail

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steward-labs/steward/engine/errs"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/observability"
)

// =============================================================================
// Approval Request / Response
// =============================================================================

// Verdict is a human approval verdict.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictDeny    Verdict = "deny"
)

// RequestStatus represents the status of an approval request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusResolved  RequestStatus = "resolved"
	RequestStatusExpired   RequestStatus = "expired"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// Request is a pending human approval for one step.
type Request struct {
	ID          string        `json:"id"`
	GoalID      string        `json:"goal_id"`
	StepID      string        `json:"step_id"`
	ToolName    string        `json:"tool_name"`
	Action      string        `json:"action"`
	Reason      string        `json:"reason"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// IsExpired checks if the request's TTL has lapsed.
func (r *Request) IsExpired() bool {
	if r.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*r.ExpiresAt)
}

// Response is a human's resolution of an approval request.
type Response struct {
	RequestID   string    `json:"request_id"`
	Verdict     Verdict   `json:"verdict"`
	Approver    string    `json:"approver"`
	RespondedAt time.Time `json:"responded_at"`
}

// =============================================================================
// Approval Service
// =============================================================================

type pendingEntry struct {
	request *Request
	ch      chan Response
}

// ApprovalService manages approval request lifecycle.
//
// A step requiring approval suspends on the channel returned by Create;
// only that step's goroutine waits, never the scheduler loop. Requests
// resolve through Resolve (human response), expire at their TTL, or are
// cancelled when the goal is cancelled.
type ApprovalService struct {
	logger logging.Logger

	mu     sync.RWMutex
	store  map[string]*pendingEntry
	byGoal map[string][]string // goal id -> request ids
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(logger logging.Logger) *ApprovalService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ApprovalService{
		logger: logger.Bind("component", "approvals"),
		store:  make(map[string]*pendingEntry),
		byGoal: make(map[string][]string),
	}
}

// Create registers a pending approval request and returns it with the
// channel that will carry the eventual Response. The channel is buffered:
// resolution never blocks on the waiter.
func (s *ApprovalService) Create(goalID, stepID, toolName, action, reason string, ttl time.Duration) (*Request, <-chan Response) {
	now := time.Now().UTC()
	req := &Request{
		ID:          "apr_" + uuid.New().String()[:16],
		GoalID:      goalID,
		StepID:      stepID,
		ToolName:    toolName,
		Action:      action,
		Reason:      reason,
		Status:      RequestStatusPending,
		RequestedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		req.ExpiresAt = &expiresAt
	}

	entry := &pendingEntry{request: req, ch: make(chan Response, 1)}

	s.mu.Lock()
	s.store[req.ID] = entry
	s.byGoal[goalID] = append(s.byGoal[goalID], req.ID)
	s.mu.Unlock()

	s.logger.Info("approval_requested",
		"request_id", req.ID,
		"goal_id", goalID,
		"step_id", stepID,
		"tool", toolName,
		"action", action,
	)

	return req, entry.ch
}

// Await suspends until the request resolves, its TTL elapses, or ctx is
// cancelled. A timeout is treated as a denial and surfaces as
// errs.ApprovalTimeout; cancellation surfaces as ctx.Err().
func (s *ApprovalService) Await(ctx context.Context, req *Request, ch <-chan Response) (*Response, error) {
	start := time.Now()
	defer func() { observability.RecordApprovalWait(time.Since(start)) }()

	var expiry <-chan time.Time
	if req.ExpiresAt != nil {
		timer := time.NewTimer(time.Until(*req.ExpiresAt))
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case resp := <-ch:
		return &resp, nil
	case <-expiry:
		s.expire(req.ID)
		return nil, errs.NewApprovalTimeout(req.StepID, time.Since(start).Seconds())
	case <-ctx.Done():
		s.Cancel(req.ID, "goal cancelled")
		return nil, ctx.Err()
	}
}

// Resolve delivers a human verdict for a pending request.
// Returns false if the request is unknown or no longer pending.
func (s *ApprovalService) Resolve(requestID string, verdict Verdict, approver string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.store[requestID]
	if !exists || entry.request.Status != RequestStatusPending {
		s.logger.Warn("approval_not_pending", "request_id", requestID)
		return false
	}
	if entry.request.IsExpired() {
		entry.request.Status = RequestStatusExpired
		return false
	}

	entry.request.Status = RequestStatusResolved
	entry.ch <- Response{
		RequestID:   requestID,
		Verdict:     verdict,
		Approver:    approver,
		RespondedAt: time.Now().UTC(),
	}

	s.logger.Info("approval_resolved",
		"request_id", requestID,
		"verdict", string(verdict),
		"approver", approver,
	)
	return true
}

// Cancel cancels a pending request.
func (s *ApprovalService) Cancel(requestID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.store[requestID]
	if !exists || entry.request.Status != RequestStatusPending {
		return false
	}
	entry.request.Status = RequestStatusCancelled

	s.logger.Info("approval_cancelled", "request_id", requestID, "reason", reason)
	return true
}

// CancelGoal cancels every pending request for a goal. Idempotent.
func (s *ApprovalService) CancelGoal(goalID, reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range s.byGoal[goalID] {
		entry := s.store[id]
		if entry != nil && entry.request.Status == RequestStatusPending {
			entry.request.Status = RequestStatusCancelled
			count++
		}
	}
	if count > 0 {
		s.logger.Info("goal_approvals_cancelled", "goal_id", goalID, "count", count)
	}
	return count
}

// expire marks a request expired after its Await timer fired.
func (s *ApprovalService) expire(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.store[requestID]; exists && entry.request.Status == RequestStatusPending {
		entry.request.Status = RequestStatusExpired
	}
}

// Pending returns all pending, unexpired requests.
func (s *ApprovalService) Pending() []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Request, 0)
	for _, entry := range s.store {
		if entry.request.Status == RequestStatusPending && !entry.request.IsExpired() {
			out = append(out, entry.request)
		}
	}
	return out
}

// Get returns a request by id, or nil.
func (s *ApprovalService) Get(requestID string) *Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, exists := s.store[requestID]; exists {
		return entry.request
	}
	return nil
}

// Stats returns per-status counts.
func (s *ApprovalService) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{"total": len(s.store)}
	for _, entry := range s.store {
		stats[string(entry.request.Status)]++
	}
	return stats
}
