// Package audit provides the append-only audit ledger.
//
// Features:
//   - Strictly increasing, gapless sequence numbers across concurrent producers
//   - Query by correlation id in append order
//   - Optional JSONL file sink for durable review
//
// The ledger is the one serialization point shared by concurrently executing
// steps: appends are serialized by a single mutex (single logical writer).
// Records are never rewritten or deleted.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steward-labs/steward/engine/logging"
)

// =============================================================================
// Record
// =============================================================================

// Kind classifies an audit record.
type Kind string

const (
	KindGuardrailDecided  Kind = "guardrail_decided"
	KindApprovalRequested Kind = "approval_requested"
	KindApprovalResolved  Kind = "approval_resolved"
	KindToolInvoked       Kind = "tool_invoked"
	KindToolCompleted     Kind = "tool_completed"
	KindVerified          Kind = "verified"
	KindRetried           Kind = "retried"
	KindReplanned         Kind = "replanned"
	KindEscalated         Kind = "escalated"
	KindGoalCompleted     Kind = "goal_completed"
	KindGoalCancelled     Kind = "goal_cancelled"
)

// Record is a single immutable entry in the ledger.
type Record struct {
	Seq           uint64         `json:"seq"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Kind          Kind           `json:"kind"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// CorrelationID builds the canonical goal/step correlation id.
// Goal-level records use an empty stepID.
func CorrelationID(goalID, stepID string) string {
	return goalID + "/" + stepID
}

// =============================================================================
// Ledger
// =============================================================================

// Ledger is the append-only audit trail for one goal execution.
// Its lifecycle is owned by the orchestrator: initialized when a goal starts,
// closed when the goal reaches a terminal state.
type Ledger struct {
	logger logging.Logger

	mu      sync.Mutex
	nextSeq uint64
	records []Record
	byCorr  map[string][]int // correlation id -> record indexes
	sink    *os.File
	closed  bool
}

// Option configures a Ledger.
type Option func(*Ledger) error

// WithFileSink appends every record to path as JSON Lines.
// The parent directory is created if missing.
func WithFileSink(path string) Option {
	return func(l *Ledger) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audit sink: %w", err)
		}
		l.sink = f
		return nil
	}
}

// NewLedger creates an empty ledger.
func NewLedger(logger logging.Logger, opts ...Option) (*Ledger, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Ledger{
		logger:  logger.Bind("component", "audit"),
		nextSeq: 1,
		records: make([]Record, 0, 64),
		byCorr:  make(map[string][]int),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append records an entry and returns its assigned sequence number.
// The caller's Seq and Timestamp fields are overwritten.
func (l *Ledger) Append(record Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, fmt.Errorf("ledger is closed")
	}

	record.Seq = l.nextSeq
	record.Timestamp = time.Now().UTC()
	l.nextSeq++

	idx := len(l.records)
	l.records = append(l.records, record)
	l.byCorr[record.CorrelationID] = append(l.byCorr[record.CorrelationID], idx)

	l.logger.Debug("audit_appended",
		"seq", record.Seq,
		"kind", string(record.Kind),
		"correlation_id", record.CorrelationID,
	)

	if l.sink != nil {
		if err := l.writeSink(record); err != nil {
			// The in-memory trail stays authoritative; sink failures are logged,
			// never allowed to block or reorder appends.
			l.logger.Error("audit_sink_write_failed", "error", err.Error())
		}
	}

	return record.Seq, nil
}

func (l *Ledger) writeSink(record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = l.sink.Write(append(data, '\n'))
	return err
}

// Query returns records for a correlation id in append order.
func (l *Ledger) Query(correlationID string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	idxs := l.byCorr[correlationID]
	out := make([]Record, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.records[i])
	}
	return out
}

// QueryGoal returns all records whose correlation id starts with goalID.
func (l *Ledger) QueryGoal(goalID string) []Record {
	prefix := goalID + "/"
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0)
	for _, r := range l.records {
		if len(r.CorrelationID) >= len(prefix) && r.CorrelationID[:len(prefix)] == prefix {
			out = append(out, r)
		}
	}
	return out
}

// All returns a copy of the full trail in append order.
func (l *Ledger) All() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Summary returns per-kind record counts.
func (l *Ledger) Summary() map[Kind]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[Kind]int)
	for _, r := range l.records {
		out[r.Kind]++
	}
	return out
}

// Close flushes and closes the file sink. Appends after Close fail.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.sink != nil {
		if err := l.sink.Sync(); err != nil {
			l.logger.Warn("audit_sink_sync_failed", "error", err.Error())
		}
		return l.sink.Close()
	}
	return nil
}
