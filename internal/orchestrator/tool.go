package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/triage-ai/palisade/services/orchestrator/internal/events"
	"github.com/triage-ai/palisade/services/orchestrator/internal/intervention"
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
	"github.com/triage-ai/palisade/services/orchestrator/internal/safety"
	"github.com/triage-ai/palisade/services/orchestrator/internal/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ExecStatus is the lifecycle of one tool call.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecRunning   ExecStatus = "running"
	ExecSucceeded ExecStatus = "succeeded"
	ExecFailed    ExecStatus = "failed"
)

// ExecutionContext is the per-call record of a tool request. It lives for
// one RequestTool invocation and is cleared on cleanup.
type ExecutionContext struct {
	RequestID string             `json:"request_id"`
	ToolID    string             `json:"tool_id"`
	ToolName  string             `json:"tool_name,omitempty"`
	User      safety.UserContext `json:"user"`
	Started   time.Time          `json:"started"`
	Params    map[string]any     `json:"params,omitempty"`
	Status    ExecStatus         `json:"status"`
	PeakUsage ResourceUsage      `json:"peak_usage"`
	Samples   int                `json:"samples"`
	Code      Code               `json:"code,omitempty"`
	Err       error              `json:"-"`

	executing   bool // reached the pre-execution checks
	stopSampler func()
}

func (e *ExecutionContext) observe(u ResourceUsage) {
	e.PeakUsage = e.PeakUsage.Max(u)
	e.Samples++
}

var errExecTimeout = errors.New("tool execution timed out")

type resourceLimitError struct{ reason string }

func (e *resourceLimitError) Error() string { return "resource limit exceeded: " + e.reason }

type invokeResult struct {
	out any
	err error
}

// RequestTool screens and, if needed, reviews a tool request, then runs the
// tool under its timeout while sampling resource usage. The tool is IN_USE
// only for the duration of the call and always returns to AVAILABLE.
// Cleanup runs exactly once per call on every exit path.
func (o *Orchestrator) RequestTool(ctx context.Context, toolID string, params map[string]any, user safety.UserContext) (res Result) {
	requestID := newRequestID()
	exec := &ExecutionContext{
		RequestID: requestID,
		ToolID:    toolID,
		User:      user,
		Started:   o.now(),
		Params:    cloneParams(params),
		Status:    ExecPending,
	}

	ctx, span := o.tracer.Start(ctx, "Orchestrator.RequestTool", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("tool_id", toolID),
		attribute.String("user_id", user.UserID),
	))
	defer func() { endSpan(span, res) }()
	defer o.cleanup(ctx, exec)
	defer func() {
		if res.Success {
			return
		}
		exec.Status = ExecFailed
		exec.Code = res.Code
		if exec.executing {
			o.onExecutionFailure(ctx, exec, res)
		}
	}()
	defer o.guard("tool", requestID, &res)

	res = o.requestTool(ctx, exec, span)
	res.RequestID = requestID
	res.ToolID = toolID
	return res
}

func (o *Orchestrator) requestTool(ctx context.Context, exec *ExecutionContext, span trace.Span) Result {
	toolID, user := exec.ToolID, exec.User

	desc, err := o.tools.Resolve(ctx, toolID)
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			return o.fail(exec, newError(CodeToolValidationFailed, fmt.Sprintf("unknown tool %q", toolID), err))
		}
		return o.fail(exec, newError(CodeInternal, "tool lookup failed", err))
	}
	exec.ToolName = desc.Name

	serialized, err := json.Marshal(exec.Params)
	if err != nil {
		return o.fail(exec, newError(CodeToolValidationFailed, "parameters are not serializable", err))
	}

	verdict := o.classifier.ValidateToolUsage(ctx, desc.Name, string(serialized), user)
	span.SetAttributes(
		attribute.String("tool.risk", verdict.Risk.String()),
		attribute.Bool("tool.requires_confirmation", verdict.RequiresConfirmation),
	)
	if !verdict.Allowed {
		o.publish(ctx, events.SafetyViolation, exec.RequestID, user, func(e *events.Event) {
			e.ToolID = toolID
			e.Payload = map[string]any{
				"stage":     "tool_input",
				"risk":      verdict.Risk.String(),
				"reason":    verdict.Reason,
				"escalated": verdict.Evaluation.Escalated,
			}
		})
		r := o.fail(exec, newError(CodeSafetyRejected, verdict.Reason, nil))
		r.Risk = verdict.Risk
		r.Evaluation = &verdict.Evaluation
		return r
	}

	confirmed := false
	if verdict.RequiresConfirmation {
		resp, ierr := o.intervene(ctx, exec.RequestID, user, intervention.TypeToolUsage, map[string]any{
			"tool_id":   toolID,
			"tool_name": desc.Name,
			"params":    exec.Params,
			"risk":      verdict.Risk.String(),
			"reason":    verdict.Reason,
		}, CodeToolRejected)
		if ierr != nil {
			return o.fail(exec, ierr)
		}
		exec.Params = mergeParams(exec.Params, resp.Updates)
		confirmed = true
	}

	exec.executing = true

	usage := o.sampler.Sample()
	exec.observe(usage)
	if exceeded, why := o.limits.Exceeded(usage); exceeded {
		return o.fail(exec, newError(CodeResourceLimitExceeded, why, nil))
	}
	if err := o.tools.ValidateParams(toolID, exec.Params); err != nil {
		return o.fail(exec, newError(CodeToolValidationFailed, err.Error(), err))
	}
	allowed, err := o.tools.AllowCall(toolID)
	if err != nil {
		return o.fail(exec, newError(CodeInternal, "rate limit check failed", err))
	}
	if !allowed {
		return o.fail(exec, newError(CodeToolRateLimited, fmt.Sprintf("rate limit for %s exceeded", toolID), nil))
	}

	if err := o.tools.RequestUsage(toolID); err != nil {
		if errors.Is(err, tools.ErrToolUnavailable) {
			return o.fail(exec, newError(CodeToolUnavailable, err.Error(), err))
		}
		return o.fail(exec, newError(CodeInternal, "tool state change failed", err))
	}
	var succeeded bool
	defer func() {
		if err := o.tools.Release(toolID, !succeeded); err != nil {
			o.logger.Error("tool release failed",
				zap.String("request_id", exec.RequestID),
				zap.String("tool_id", toolID),
				zap.Error(err),
			)
		}
	}()

	exec.Status = ExecRunning
	o.publish(ctx, events.ToolExecutionStart, exec.RequestID, user, func(e *events.Event) {
		e.ToolID = toolID
		e.Payload = map[string]any{"tool_name": desc.Name, "timeout_ms": desc.EffectiveTimeout().Milliseconds()}
	})

	out, xerr := o.execute(ctx, desc, exec)
	if xerr != nil {
		return o.fail(exec, xerr)
	}

	screened, err := json.Marshal(out)
	if err != nil {
		return o.fail(exec, newError(CodeToolExecutionError, "tool output is not serializable", err))
	}
	outEval := o.classifier.Screen(ctx, string(screened), user)
	if !outEval.Safe {
		o.publish(ctx, events.SafetyViolation, exec.RequestID, user, func(e *events.Event) {
			e.ToolID = toolID
			e.Payload = map[string]any{"stage": "tool_output", "risk": outEval.Risk.String()}
		})
		r := o.fail(exec, newError(CodeSafetyRejected, "tool output failed safety evaluation", nil))
		r.Risk = outEval.Risk
		r.Evaluation = &outEval
		return r
	}

	succeeded = true
	exec.Status = ExecSucceeded
	elapsed := o.now().Sub(exec.Started)
	o.publish(ctx, events.ToolExecutionComplete, exec.RequestID, user, func(e *events.Event) {
		e.ToolID = toolID
		e.Payload = map[string]any{"duration_ms": elapsed.Milliseconds(), "samples": exec.Samples}
	})

	return Result{
		Success: true,
		Output:  out,
		Execution: &ExecutionMetadata{
			Started:   exec.Started,
			Elapsed:   elapsed,
			ElapsedMs: elapsed.Milliseconds(),
			PeakUsage: exec.PeakUsage,
			Samples:   exec.Samples,
			Confirmed: confirmed,
		},
		Risk: risk.Max(verdict.Risk, outEval.Risk),
	}
}

// execute races the tool call against its timeout and the resource sampler.
// Losing the race cancels the call's context.
func (o *Orchestrator) execute(ctx context.Context, desc tools.Descriptor, exec *ExecutionContext) (any, *Error) {
	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timeout := desc.EffectiveTimeout()
	timer := time.AfterFunc(timeout, func() { cancel(errExecTimeout) })
	defer timer.Stop()

	exec.stopSampler = o.startSampler(execCtx, exec, cancel)
	defer exec.stopSampler()

	params := exec.Params
	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("tool invoker panicked: %v", r)}
			}
		}()
		out, err := o.invoker.Invoke(execCtx, desc, params)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.out, nil
		}
		if execCtx.Err() != nil {
			return nil, causeError(context.Cause(execCtx), desc.ID, timeout)
		}
		return nil, newError(CodeToolExecutionError, r.err.Error(), r.err)
	case <-execCtx.Done():
		return nil, causeError(context.Cause(execCtx), desc.ID, timeout)
	}
}

func causeError(cause error, toolID string, timeout time.Duration) *Error {
	var rl *resourceLimitError
	switch {
	case errors.Is(cause, errExecTimeout):
		return newError(CodeToolTimeout, fmt.Sprintf("%s did not finish within %s", toolID, timeout), cause)
	case errors.As(cause, &rl):
		return newError(CodeResourceLimitExceeded, rl.reason, cause)
	case errors.Is(cause, context.DeadlineExceeded):
		return newError(CodeToolTimeout, "caller deadline exceeded", cause)
	default:
		return newError(CodeToolExecutionError, "tool call cancelled", cause)
	}
}

// startSampler samples resource usage every sampleInterval until stopped or
// ctx ends, aborting the call through abort when a limit is crossed. The
// returned stop function is idempotent and waits for the sampler to exit.
func (o *Orchestrator) startSampler(ctx context.Context, exec *ExecutionContext, abort context.CancelCauseFunc) func() {
	ticker := time.NewTicker(o.sampleInterval)
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				u := o.sampler.Sample()
				exec.observe(u)
				if exceeded, why := o.limits.Exceeded(u); exceeded {
					abort(&resourceLimitError{reason: why})
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			wg.Wait()
		})
	}
}

func (o *Orchestrator) fail(exec *ExecutionContext, err *Error) Result {
	exec.Err = err
	return failure(exec.RequestID, err)
}

// onExecutionFailure reports a failed call and hands it to the recovery hook
// without waiting for it.
func (o *Orchestrator) onExecutionFailure(ctx context.Context, exec *ExecutionContext, res Result) {
	elapsed := o.now().Sub(exec.Started)
	o.publish(ctx, events.ToolExecutionError, exec.RequestID, exec.User, func(e *events.Event) {
		e.ToolID = exec.ToolID
		e.Payload = map[string]any{
			"code":            string(res.Code),
			"reason":          res.Reason,
			"status":          string(exec.Status),
			"duration_ms":     elapsed.Milliseconds(),
			"samples":         exec.Samples,
			"peak_heap_mb":    exec.PeakUsage.HeapMB,
			"peak_goroutines": exec.PeakUsage.Goroutines,
		}
	})
	o.logger.Warn("tool execution failed",
		zap.String("request_id", exec.RequestID),
		zap.String("tool_id", exec.ToolID),
		zap.String("code", string(res.Code)),
		zap.String("reason", res.Reason),
		zap.Duration("elapsed", elapsed),
	)

	if o.recovery == nil {
		return
	}
	snapshot := *exec
	snapshot.Params = cloneParams(exec.Params)
	snapshot.stopSampler = nil
	err := exec.Err
	if err == nil {
		err = newError(res.Code, res.Reason, nil)
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("recovery hook panicked",
					zap.String("request_id", snapshot.RequestID),
					zap.Any("panic", r),
				)
			}
		}()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoveryTimeout)
		defer cancel()
		o.recovery.Recover(rctx, snapshot, err)
	}()
}

// cleanup stops any running sampler and clears per-call data.
func (o *Orchestrator) cleanup(ctx context.Context, exec *ExecutionContext) {
	if exec.stopSampler != nil {
		exec.stopSampler()
		exec.stopSampler = nil
	}
	o.publish(ctx, events.ToolExecutionCleanup, exec.RequestID, exec.User, func(e *events.Event) {
		e.ToolID = exec.ToolID
		e.Payload = map[string]any{
			"status":      string(exec.Status),
			"duration_ms": o.now().Sub(exec.Started).Milliseconds(),
		}
	})
	exec.Params = nil
	exec.Err = nil
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func mergeParams(params, updates map[string]any) map[string]any {
	if len(updates) == 0 {
		return params
	}
	out := cloneParams(params)
	for k, v := range updates {
		out[k] = v
	}
	return out
}
