package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/steward-labs/steward/engine/audit"
	"github.com/steward-labs/steward/engine/errs"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/observability"
	"github.com/steward-labs/steward/engine/plan"
)

var tracer = otel.Tracer("steward/tool")

// Dispatcher validates step parameters against the resolved contract's
// schema, invokes the tool under a bounded timeout, and normalizes every
// outcome into a Result. Failures are isolated per call: a tool fault,
// panic, or timeout never propagates as a crash.
type Dispatcher struct {
	logger  logging.Logger
	ledger  *audit.Ledger
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher. The ledger receives ToolInvoked and
// ToolCompleted records bracketing every call.
func NewDispatcher(logger logging.Logger, ledger *audit.Ledger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		logger:  logger.Bind("component", "dispatcher"),
		ledger:  ledger,
		timeout: timeout,
	}
}

// Dispatch runs one attempt of a step against its resolved contract.
//
// A schema violation fails fast with errs.ValidationError and the tool is
// never invoked; it is recorded but must not be retried. Tool faults and
// timeouts are captured into the Result and wrapped in
// errs.ToolExecutionError so the orchestrator can apply its retry policy.
func (d *Dispatcher) Dispatch(ctx context.Context, goalID string, step *plan.Step, contract Contract) (*Result, error) {
	ctx, span := tracer.Start(ctx, "tool.dispatch")
	span.SetAttributes(
		attribute.String("steward.tool.name", contract.Name()),
		attribute.String("steward.step.id", step.ID),
	)
	defer span.End()

	corrID := audit.CorrelationID(goalID, step.ID)

	if err := d.validateParams(step, contract); err != nil {
		d.logger.Warn("tool_params_rejected",
			"tool", contract.Name(),
			"step_id", step.ID,
			"error", err.Error(),
		)
		d.append(corrID, audit.KindToolCompleted, map[string]any{
			"tool":    contract.Name(),
			"attempt": step.AttemptCount,
			"success": false,
			"error":   err.Error(),
			"stage":   "validation",
		})
		return &Result{Success: false, Error: err.Error()}, err
	}

	d.append(corrID, audit.KindToolInvoked, map[string]any{
		"tool":    contract.Name(),
		"action":  step.ActionKind(),
		"attempt": step.AttemptCount,
	})

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	result, callErr := d.invoke(callCtx, contract, step.Parameters)
	elapsed := time.Since(start)
	result.DurationMs = float64(elapsed.Microseconds()) / 1000.0

	var dispatchErr error
	switch {
	case callErr != nil && errors.Is(callErr, context.DeadlineExceeded):
		result = &Result{
			Success:    false,
			Error:      fmt.Sprintf("timed out after %s", d.timeout),
			DurationMs: result.DurationMs,
		}
		dispatchErr = errs.NewToolExecutionError(contract.Name(), true, callErr)
	case callErr != nil:
		result = &Result{Success: false, Error: callErr.Error(), DurationMs: result.DurationMs}
		dispatchErr = errs.NewToolExecutionError(contract.Name(), false, callErr)
	case !result.Success:
		dispatchErr = errs.NewToolExecutionError(contract.Name(), false, errors.New(result.Error))
	}

	status := "success"
	if !result.Success {
		status = "error"
	}
	observability.RecordToolDispatch(contract.Name(), status, elapsed)

	d.append(corrID, audit.KindToolCompleted, map[string]any{
		"tool":        contract.Name(),
		"attempt":     step.AttemptCount,
		"success":     result.Success,
		"error":       result.Error,
		"duration_ms": result.DurationMs,
	})

	d.logger.Info("tool_dispatched",
		"tool", contract.Name(),
		"step_id", step.ID,
		"success", result.Success,
		"duration_ms", result.DurationMs,
	)

	return result, dispatchErr
}

// invoke calls the tool, containing panics and honoring the call context.
func (d *Dispatcher) invoke(ctx context.Context, contract Contract, params map[string]any) (result *Result, err error) {
	type outcome struct {
		res *Result
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool_panic_recovered",
					"tool", contract.Name(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				ch <- outcome{err: fmt.Errorf("panic in tool '%s': %v", contract.Name(), r)}
			}
		}()
		res, execErr := contract.Execute(ctx, params)
		ch <- outcome{res: res, err: execErr}
	}()

	select {
	case out := <-ch:
		if out.res == nil {
			out.res = &Result{Success: out.err == nil}
		}
		return out.res, out.err
	case <-ctx.Done():
		// The tool goroutine keeps running until it observes ctx itself;
		// its eventual send lands in the buffered channel and is dropped.
		return &Result{Success: false}, ctx.Err()
	}
}

// validateParams checks step parameters against the contract's JSON Schema.
func (d *Dispatcher) validateParams(step *plan.Step, contract Contract) error {
	schema := contract.InputSchema()
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(step.Parameters),
	)
	if err != nil {
		return errs.NewValidationError(contract.Name(), fmt.Sprintf("schema error: %v", err))
	}
	if !result.Valid() {
		detail := ""
		for i, desc := range result.Errors() {
			if i > 0 {
				detail += "; "
			}
			detail += desc.String()
		}
		return errs.NewValidationError(contract.Name(), detail)
	}
	return nil
}

func (d *Dispatcher) append(corrID string, kind audit.Kind, payload map[string]any) {
	if d.ledger == nil {
		return
	}
	if _, err := d.ledger.Append(audit.Record{
		CorrelationID: corrID,
		Kind:          kind,
		Payload:       payload,
	}); err != nil {
		d.logger.Error("audit_append_failed", "kind", string(kind), "error", err.Error())
	}
}
