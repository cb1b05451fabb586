// Package orchestrate implements the control loop that drives a goal from
// plan to terminal outcome.
//
// Key concepts:
//   - a single coordinating goroutine owns all step state; workers report
//     progress over one ordered channel and never mutate a Step's status
//   - each ready step runs guardrail -> dispatch -> verify on its own
//     goroutine with bounded, backoff-spaced retries
//   - exhausted retries trigger one replan; an exhausted replan escalates
//     to a human decision
//   - every transition lands in the audit ledger before it takes effect
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/steward-labs/steward/engine/audit"
	"github.com/steward-labs/steward/engine/errs"
	"github.com/steward-labs/steward/engine/guardrail"
	"github.com/steward-labs/steward/engine/llm"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/observability"
	"github.com/steward-labs/steward/engine/plan"
	"github.com/steward-labs/steward/engine/planner"
	"github.com/steward-labs/steward/engine/tool"
	"github.com/steward-labs/steward/engine/verify"
)

var tracer = otel.Tracer("steward/orchestrate")

// =============================================================================
// Goal Outcome
// =============================================================================

// GoalStatus is the caller-visible terminal status of a goal.
type GoalStatus string

const (
	// GoalDone indicates every step completed and verified.
	GoalDone GoalStatus = "done"
	// GoalFailed indicates a non-recoverable failure with no replan path.
	GoalFailed GoalStatus = "failed"
	// GoalEscalated indicates a step awaits a human decision.
	GoalEscalated GoalStatus = "escalated_pending_human"
	// GoalCancelled indicates the caller cancelled the goal.
	GoalCancelled GoalStatus = "cancelled"
)

// Outcome is the final report for one goal execution, always carrying a
// correlation id into the audit trail for full reconstruction.
type Outcome struct {
	GoalID        string     `json:"goal_id"`
	Status        GoalStatus `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	CorrelationID string     `json:"correlation_id"`
	Steps         int        `json:"steps"`
	Revision      int        `json:"plan_revision"`
}

// =============================================================================
// Config
// =============================================================================

// Config bounds the orchestrator's recovery behavior.
type Config struct {
	// MaxConcurrent bounds parallel step execution. Zero means 4.
	MaxConcurrent int
	// MaxAttempts bounds dispatch attempts per step per plan. Zero means 3.
	MaxAttempts int
	// MaxReplans bounds replanning per goal. Zero means 1.
	MaxReplans int
	// ApprovalTTL bounds the human-approval wait. Zero means 15 minutes.
	ApprovalTTL time.Duration
	// RetryInitialInterval seeds the backoff schedule. Zero means 500ms.
	RetryInitialInterval time.Duration
	// RetryMaxInterval caps the backoff schedule. Zero means 10s.
	RetryMaxInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxReplans <= 0 {
		c.MaxReplans = 1
	}
	if c.ApprovalTTL <= 0 {
		c.ApprovalTTL = 15 * time.Minute
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 10 * time.Second
	}
	return c
}

// =============================================================================
// Orchestrator
// =============================================================================

// stepDisposition is a worker's final report for one step run.
type stepDisposition string

const (
	dispositionDone      stepDisposition = "done"
	dispositionExhausted stepDisposition = "exhausted" // retries used up, recovery continues at goal level
	dispositionDenied    stepDisposition = "denied"
	dispositionFailed    stepDisposition = "failed" // structural failure, no retry
	dispositionCancelled stepDisposition = "cancelled"
)

// stepReport is a worker's message to the coordinator: an intermediate
// status transition, or (terminal set) the worker's final disposition. All
// reports for a goal travel on one channel so each worker's messages arrive
// in send order; the coordinator never sees a disposition before the
// transitions that led to it.
type stepReport struct {
	step        *plan.Step
	status      plan.StepStatus
	terminal    bool
	disposition stepDisposition
	reason      string
	lastError   string
}

// Orchestrator drives goals through plan, gate, dispatch, verify, and
// recovery. Step state is owned by the coordinating loop; the registry,
// policy table, and ledger are shared with workers.
type Orchestrator struct {
	logger    logging.Logger
	registry  *tool.Registry
	planner   *planner.Planner
	verifier  *verify.Verifier
	guards    *guardrail.Engine
	approvals *guardrail.ApprovalService
	ledger    *audit.Ledger
	dispatch  *tool.Dispatcher
	cfg       Config

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
	cancelled bool
}

// New creates an Orchestrator.
func New(
	logger logging.Logger,
	registry *tool.Registry,
	model llm.ModelClient,
	guards *guardrail.Engine,
	approvals *guardrail.ApprovalService,
	ledger *audit.Ledger,
	dispatch *tool.Dispatcher,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		logger:    logger.Bind("component", "orchestrator"),
		registry:  registry,
		planner:   planner.New(logger, model),
		verifier:  verify.New(logger, model),
		guards:    guards,
		approvals: approvals,
		ledger:    ledger,
		dispatch:  dispatch,
		cfg:       cfg.withDefaults(),
	}
}

// Approvals exposes the approval service for external resolution surfaces.
func (o *Orchestrator) Approvals() *guardrail.ApprovalService {
	return o.approvals
}

// Ledger exposes the audit ledger for query surfaces.
func (o *Orchestrator) Ledger() *audit.Ledger {
	return o.ledger
}

// Cancel aborts the in-flight goal. Idempotent and safe to invoke at any
// time; in-flight tool calls receive a best-effort context abort.
func (o *Orchestrator) Cancel() {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()

	o.cancelled = true
	if o.cancelRun != nil {
		o.cancelRun()
	}
}

// Run executes a goal to a terminal outcome.
func (o *Orchestrator) Run(ctx context.Context, goalText string) (*Outcome, error) {
	return o.RunGoal(ctx, plan.NewGoal(goalText))
}

// RunGoal executes a pre-created goal to a terminal outcome. Callers that
// need the goal id before completion create the goal themselves.
func (o *Orchestrator) RunGoal(ctx context.Context, goal *plan.Goal) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrate.run")
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.cancelMu.Lock()
	if o.cancelled {
		o.cancelMu.Unlock()
		return nil, errs.NewCancellationError(goal.ID)
	}
	o.cancelRun = cancel
	o.cancelMu.Unlock()

	span.SetAttributes(attribute.String("steward.goal.id", goal.ID))
	goalCorr := audit.CorrelationID(goal.ID, "")
	start := time.Now()

	o.logger.Info("goal_accepted", "goal_id", goal.ID, "text", goal.Text)

	outcome, err := o.execute(runCtx, goal)
	if err != nil {
		return nil, err
	}
	outcome.GoalID = goal.ID
	outcome.CorrelationID = goalCorr

	o.append(goalCorr, audit.KindGoalCompleted, map[string]any{
		"status": string(outcome.Status),
		"reason": outcome.Reason,
	})
	observability.RecordGoalExecution(string(outcome.Status), time.Since(start))

	o.logger.Info("goal_finished",
		"goal_id", goal.ID,
		"status", string(outcome.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome, nil
}

// execute owns the plan/replan cycle.
func (o *Orchestrator) execute(ctx context.Context, goal *plan.Goal) (*Outcome, error) {
	catalog := o.registry.Catalog()
	goalCorr := audit.CorrelationID(goal.ID, "")

	current, err := o.planWithRetry(ctx, goal, catalog, nil)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelOutcome(goal, nil), nil
		}
		return &Outcome{Status: GoalFailed, Reason: err.Error()}, nil
	}

	replansUsed := 0
	for {
		res := o.coordinate(ctx, goal, current)

		switch {
		case res.cancelled:
			return o.cancelOutcome(goal, current), nil

		case res.done:
			return &Outcome{Status: GoalDone, Steps: len(current.Steps), Revision: current.Revision}, nil

		case res.exhausted != nil:
			if replansUsed >= o.cfg.MaxReplans {
				outcome, resolved := o.escalateStep(ctx, goal, current, res.exhausted, res.lastError)
				if !resolved {
					return outcome, nil
				}
				// Human sent the step back through retry; keep coordinating.
				continue
			}
			replansUsed++

			o.append(goalCorr, audit.KindReplanned, map[string]any{
				"failed_step": res.exhausted.ID,
				"revision":    current.Revision,
				"error":       res.lastError,
			})

			fresh, err := o.planWithRetry(ctx, goal, catalog, &planner.ReplanContext{
				FailedStep:  res.exhausted,
				ResultError: res.lastError,
				Attempts:    res.exhausted.AttemptCount,
				Revision:    current.Revision,
			})
			if err != nil {
				if ctx.Err() != nil {
					return o.cancelOutcome(goal, current), nil
				}
				return &Outcome{
					Status:   GoalFailed,
					Reason:   fmt.Sprintf("replanning failed: %v", err),
					Steps:    len(current.Steps),
					Revision: current.Revision,
				}, nil
			}
			current = fresh

		default:
			return &Outcome{
				Status:   GoalFailed,
				Reason:   res.failReason,
				Steps:    len(current.Steps),
				Revision: current.Revision,
			}, nil
		}
	}
}

// planWithRetry invokes the planner, retrying model failures with backoff.
// Structural planning errors are not retried.
func (o *Orchestrator) planWithRetry(ctx context.Context, goal *plan.Goal, catalog []tool.CatalogEntry, rc *planner.ReplanContext) (*plan.Plan, error) {
	schedule := o.newBackoff()

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		var (
			p   *plan.Plan
			err error
		)
		if rc == nil {
			p, err = o.planner.Plan(ctx, goal, catalog)
		} else {
			p, err = o.planner.Replan(ctx, goal, catalog, rc)
		}
		if err == nil {
			// Accepted plans carry the configured attempt bound; the
			// planner's default is not authoritative.
			for _, s := range p.Steps {
				s.MaxAttempts = o.cfg.MaxAttempts
			}
			return p, nil
		}
		lastErr = err

		var pe *errs.PlanningError
		if errors.As(err, &pe) && pe.Reason != errs.ReasonModelInvocationFailed {
			return nil, err
		}

		o.logger.Warn("planning_attempt_failed",
			"goal_id", goal.ID,
			"attempt", attempt,
			"error", err.Error(),
		)
		if attempt < o.cfg.MaxAttempts {
			if err := sleepCtx(ctx, schedule.NextBackOff()); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// =============================================================================
// Coordination loop
// =============================================================================

// coordinateResult summarizes one pass over a plan revision.
type coordinateResult struct {
	done       bool
	cancelled  bool
	exhausted  *plan.Step // retries used up; goal-level recovery decides
	failReason string
	lastError  string
}

// coordinate schedules ready steps until the plan completes, a step
// exhausts local recovery, or the run is cancelled. It is the only place
// step status is mutated.
func (o *Orchestrator) coordinate(ctx context.Context, goal *plan.Goal, p *plan.Plan) coordinateResult {
	reports := make(chan stepReport, len(p.Steps)*16)

	running := make(map[string]guardrail.Tier)

	for {
		if ctx.Err() != nil {
			o.drainRunning(goal, len(running), reports)
			o.markCancelled(goal, p)
			return coordinateResult{cancelled: true}
		}

		// Launch every ready step the bounds allow.
		for _, step := range p.ReadySteps() {
			if _, active := running[step.ID]; active {
				continue
			}
			if len(running) >= o.cfg.MaxConcurrent {
				break
			}

			tier, _ := o.guards.Policy().Lookup(step.ToolName, step.ActionKind())
			if o.conflicts(tier, running) {
				continue
			}

			o.transition(goal, step, plan.StatusGuardrailPending)
			running[step.ID] = tier

			s := step
			safeGo(o.logger, "run_step", func() {
				o.runStep(ctx, goal, s, reports)
			}, func(recovered any) {
				reports <- stepReport{
					step:        s,
					terminal:    true,
					disposition: dispositionFailed,
					reason:      fmt.Sprintf("step worker panicked: %v", recovered),
				}
			})
		}

		if len(running) == 0 {
			switch {
			case p.AllDone():
				return coordinateResult{done: true}
			case p.AllTerminal():
				return coordinateResult{failReason: o.describeFailure(p)}
			default:
				// Remaining steps are unreachable: their dependencies
				// terminated without reaching Done.
				o.failUnreachable(goal, p)
				return coordinateResult{failReason: o.describeFailure(p)}
			}
		}

		select {
		case r := <-reports:
			if !r.terminal {
				o.transition(goal, r.step, r.status)
				break
			}
			delete(running, r.step.ID)
			o.settle(goal, r)

			if r.disposition == dispositionExhausted {
				o.drainRunning(goal, len(running), reports)
				return coordinateResult{exhausted: r.step, lastError: r.lastError}
			}

		case <-ctx.Done():
			// Handled at the top of the loop.
		}
	}
}

// conflicts applies the policy's serialization rule: tiers in the
// serialize set never run concurrently with one another.
func (o *Orchestrator) conflicts(tier guardrail.Tier, running map[string]guardrail.Tier) bool {
	if !o.guards.Policy().Serialized(tier) {
		return false
	}
	for _, other := range running {
		if o.guards.Policy().Serialized(other) {
			return true
		}
	}
	return false
}

// drainRunning waits for outstanding workers and settles their reports, so
// completed work is not lost across a recovery pass and no send can leak
// into a later coordinate pass. Goal-level recovery only acts on one
// exhausted step; any further exhaustion drained here fails its step.
func (o *Orchestrator) drainRunning(goal *plan.Goal, count int, reports <-chan stepReport) {
	for count > 0 {
		r := <-reports
		if !r.terminal {
			o.transition(goal, r.step, r.status)
			continue
		}
		if r.disposition == dispositionExhausted {
			r.disposition = dispositionFailed
			r.reason = "retries exhausted"
		}
		o.settle(goal, r)
		count--
	}
}

// =============================================================================
// Step worker
// =============================================================================

// runStep drives one step through guardrail, dispatch, and verification
// with bounded, backoff-spaced retries. It reports transitions and exactly
// one terminal disposition over reports, in order.
func (o *Orchestrator) runStep(ctx context.Context, goal *plan.Goal, step *plan.Step, reports chan<- stepReport) {
	ctx, span := tracer.Start(ctx, "orchestrate.step")
	span.SetAttributes(
		attribute.String("steward.step.id", step.ID),
		attribute.String("steward.tool.name", step.ToolName),
	)
	defer span.End()

	moveTo := func(status plan.StepStatus) {
		reports <- stepReport{step: step, status: status}
	}
	finish := func(d stepDisposition, reason, lastError string) {
		reports <- stepReport{step: step, terminal: true, disposition: d, reason: reason, lastError: lastError}
	}

	corr := audit.CorrelationID(goal.ID, step.ID)
	schedule := o.newBackoff()
	lastError := ""

	for attempt := 1; attempt <= step.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			finish(dispositionCancelled, "", "")
			return
		}
		step.AttemptCount = attempt

		// Guardrail gate. Re-evaluated on every attempt.
		decision, err := o.guards.Evaluate(ctx, goal.ID, step)
		if err != nil {
			finish(dispositionFailed, err.Error(), "")
			return
		}

		switch decision.Outcome {
		case guardrail.OutcomeDenied:
			finish(dispositionDenied, errs.NewGuardrailDenied(step.ID, decision.Rationale).Error(), "")
			return

		case guardrail.OutcomePendingApproval:
			approved, err := o.awaitApproval(ctx, goal, step, decision)
			if err != nil {
				var at *errs.ApprovalTimeout
				if errors.As(err, &at) {
					finish(dispositionDenied, "approval timed out", "")
				} else {
					finish(dispositionCancelled, "", "")
				}
				return
			}
			if !approved {
				finish(dispositionDenied, "approval denied by human", "")
				return
			}
		}

		moveTo(plan.StatusApproved)

		// Dispatch.
		contract, err := o.registry.Resolve(step.ToolName)
		if err != nil {
			finish(dispositionFailed, err.Error(), "")
			return
		}

		moveTo(plan.StatusExecuting)
		result, dispatchErr := o.dispatch.Dispatch(ctx, goal.ID, step, contract)

		if ctx.Err() != nil {
			finish(dispositionCancelled, "", "")
			return
		}
		// Validation and other structural dispatch failures end the step;
		// retryable tool failures fall through to verification.
		if dispatchErr != nil && !errs.IsRetryable(dispatchErr) {
			finish(dispositionFailed, dispatchErr.Error(), "")
			return
		}

		// Verify. Panic containment mirrors the dispatcher's: a panicking
		// judge counts as an inconclusive attempt, not a dead worker.
		moveTo(plan.StatusVerifying)
		var verdict verify.Verdict
		if err := safeExecute(o.logger, "verify_step", func() error {
			verdict = *o.verifier.Verify(ctx, goal, step, result)
			return nil
		}); err != nil {
			verdict = verify.Verdict{Status: verify.StatusInconclusive, Reason: err.Error()}
		}

		o.append(corr, audit.KindVerified, map[string]any{
			"status":  string(verdict.Status),
			"reason":  verdict.Reason,
			"attempt": attempt,
		})

		if verdict.Status == verify.StatusVerified {
			finish(dispositionDone, "", "")
			return
		}
		lastError = verdict.Reason
		if !verdict.Retryable() {
			finish(dispositionFailed, verdict.Reason, "")
			return
		}

		if attempt < step.MaxAttempts {
			o.append(corr, audit.KindRetried, map[string]any{
				"attempt": attempt,
				"reason":  verdict.Reason,
			})
			observability.RecordStepRetry()
			moveTo(plan.StatusRetrying)
			moveTo(plan.StatusGuardrailPending)

			if err := sleepCtx(ctx, schedule.NextBackOff()); err != nil {
				finish(dispositionCancelled, "", "")
				return
			}
		}
	}

	finish(dispositionExhausted, "", lastError)
}

// awaitApproval suspends the step on a human decision. Only this step's
// goroutine blocks; the coordinator keeps scheduling independent steps.
func (o *Orchestrator) awaitApproval(ctx context.Context, goal *plan.Goal, step *plan.Step, decision *guardrail.Decision) (bool, error) {
	corr := audit.CorrelationID(goal.ID, step.ID)

	req, ch := o.approvals.Create(goal.ID, step.ID, step.ToolName, step.ActionKind(), decision.Rationale, o.cfg.ApprovalTTL)
	o.append(corr, audit.KindApprovalRequested, map[string]any{
		"request_id": req.ID,
		"tool":       step.ToolName,
		"action":     step.ActionKind(),
	})

	resp, err := o.approvals.Await(ctx, req, ch)
	if err != nil {
		var at *errs.ApprovalTimeout
		if errors.As(err, &at) {
			o.append(corr, audit.KindApprovalResolved, map[string]any{
				"request_id": req.ID,
				"verdict":    "approval_timeout",
			})
		}
		return false, err
	}

	o.append(corr, audit.KindApprovalResolved, map[string]any{
		"request_id": req.ID,
		"verdict":    string(resp.Verdict),
		"approver":   resp.Approver,
	})
	return resp.Verdict == guardrail.VerdictApprove, nil
}

// =============================================================================
// Escalation
// =============================================================================

// escalateStep hands a step to a human after local recovery is exhausted.
// Returns (outcome, false) when the goal ends here, or (nil, true) when the
// human sent the step back through retry.
func (o *Orchestrator) escalateStep(ctx context.Context, goal *plan.Goal, p *plan.Plan, step *plan.Step, lastError string) (*Outcome, bool) {
	corr := audit.CorrelationID(goal.ID, step.ID)

	o.transition(goal, step, plan.StatusEscalated)
	o.append(corr, audit.KindEscalated, map[string]any{
		"attempts": step.AttemptCount,
		"error":    lastError,
	})

	req, ch := o.approvals.Create(goal.ID, step.ID, step.ToolName, step.ActionKind(),
		fmt.Sprintf("automated recovery exhausted: %s", lastError), o.cfg.ApprovalTTL)

	resp, err := o.approvals.Await(ctx, req, ch)
	if err != nil {
		var at *errs.ApprovalTimeout
		if errors.As(err, &at) {
			// Nobody answered inside the TTL. The request expires, the
			// goal surfaces as escalated, and acting on it means
			// resubmitting the goal.
			return &Outcome{
				Status:   GoalEscalated,
				Reason:   fmt.Sprintf("step %s awaiting human resolution", step.ID),
				Steps:    len(p.Steps),
				Revision: p.Revision,
			}, false
		}
		o.markCancelled(goal, p)
		return o.cancelOutcome(goal, p), false
	}

	o.append(corr, audit.KindApprovalResolved, map[string]any{
		"request_id": req.ID,
		"verdict":    string(resp.Verdict),
		"approver":   resp.Approver,
		"escalation": true,
	})

	if resp.Verdict == guardrail.VerdictApprove {
		o.transition(goal, step, plan.StatusRetrying)
		step.AttemptCount = 0
		return nil, true
	}

	o.transition(goal, step, plan.StatusFailed)
	return &Outcome{
		Status:   GoalFailed,
		Reason:   fmt.Sprintf("escalated step %s failed by %s", step.ID, resp.Approver),
		Steps:    len(p.Steps),
		Revision: p.Revision,
	}, false
}

// =============================================================================
// State transitions
// =============================================================================

// transition applies a status change, enforcing the state machine edges.
func (o *Orchestrator) transition(goal *plan.Goal, step *plan.Step, next plan.StepStatus) {
	if step.Status == next {
		return
	}
	if !step.Status.CanTransition(next) {
		o.logger.Error("illegal_step_transition",
			"step_id", step.ID,
			"from", string(step.Status),
			"to", string(next),
		)
		return
	}
	step.Status = next
	observability.RecordStepTransition(string(next))
}

// settle applies a worker's terminal disposition to the step.
func (o *Orchestrator) settle(goal *plan.Goal, res stepReport) {
	step := res.step
	switch res.disposition {
	case dispositionDone:
		o.transition(goal, step, plan.StatusDone)
	case dispositionDenied:
		o.transition(goal, step, plan.StatusDenied)
	case dispositionFailed:
		// The worker may have stopped anywhere in the pipeline; walk the
		// legal edges toward Failed.
		if step.Status == plan.StatusGuardrailPending {
			o.transition(goal, step, plan.StatusApproved)
		}
		if step.Status == plan.StatusApproved {
			o.transition(goal, step, plan.StatusExecuting)
		}
		if step.Status == plan.StatusExecuting {
			o.transition(goal, step, plan.StatusVerifying)
		}
		o.transition(goal, step, plan.StatusFailed)
	case dispositionCancelled:
		o.transition(goal, step, plan.StatusCancelled)
	case dispositionExhausted:
		// Status settles during goal-level recovery (replan or escalate).
	}
	if res.reason != "" {
		o.logger.Info("step_settled",
			"step_id", step.ID,
			"disposition", string(res.disposition),
			"reason", res.reason,
		)
	}
}

// markCancelled cancels every non-terminal step and pending approval.
// Idempotent: already-terminal steps are left untouched.
func (o *Orchestrator) markCancelled(goal *plan.Goal, p *plan.Plan) {
	if p == nil {
		return
	}
	for _, step := range p.Steps {
		if !step.Status.IsTerminal() {
			step.Status = plan.StatusCancelled
			observability.RecordStepTransition(string(plan.StatusCancelled))
		}
	}
	o.approvals.CancelGoal(goal.ID, "goal cancelled")
}

func (o *Orchestrator) cancelOutcome(goal *plan.Goal, p *plan.Plan) *Outcome {
	o.markCancelled(goal, p)
	o.append(audit.CorrelationID(goal.ID, ""), audit.KindGoalCancelled, map[string]any{})
	out := &Outcome{Status: GoalCancelled, Reason: "goal cancelled"}
	if p != nil {
		out.Steps = len(p.Steps)
		out.Revision = p.Revision
	}
	return out
}

// failUnreachable fails steps whose dependencies can never complete.
func (o *Orchestrator) failUnreachable(goal *plan.Goal, p *plan.Plan) {
	for _, step := range p.Steps {
		if step.Status == plan.StatusPending || step.Status == plan.StatusRetrying {
			step.Status = plan.StatusFailed
			observability.RecordStepTransition(string(plan.StatusFailed))
			o.append(audit.CorrelationID(goal.ID, step.ID), audit.KindVerified, map[string]any{
				"status": "failed",
				"reason": "dependency terminated without completing",
			})
		}
	}
}

func (o *Orchestrator) describeFailure(p *plan.Plan) string {
	for _, step := range p.Steps {
		switch step.Status {
		case plan.StatusDenied:
			return fmt.Sprintf("step %s denied by guardrail policy", step.ID)
		case plan.StatusFailed:
			return fmt.Sprintf("step %s failed", step.ID)
		}
	}
	return "plan did not complete"
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInitialInterval
	b.MaxInterval = o.cfg.RetryMaxInterval
	b.RandomizationFactor = 0.3
	b.Reset()
	return b
}

func (o *Orchestrator) append(corrID string, kind audit.Kind, payload map[string]any) {
	if o.ledger == nil {
		return
	}
	if _, err := o.ledger.Append(audit.Record{
		CorrelationID: corrID,
		Kind:          kind,
		Payload:       payload,
	}); err != nil {
		o.logger.Error("audit_append_failed", "kind", string(kind), "error", err.Error())
	}
	observability.RecordAuditAppend(string(kind))
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
