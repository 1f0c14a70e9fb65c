package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"chatcore/model"
)

// ExecMode selects how a batch of tool calls is scheduled.
type ExecMode string

const (
	// ModeParallel starts all calls concurrently and waits for every one
	// to settle before returning.
	ModeParallel ExecMode = "parallel"

	// ModeSequential runs calls in order, stopping early only when a
	// failed tool is marked HaltsOnError.
	ModeSequential ExecMode = "sequential"
)

// Executor runs batches of model-emitted tool calls against a registry.
type Executor struct {
	registry    *Registry
	callTimeout time.Duration
}

// NewExecutor creates an executor. callTimeout bounds each individual call;
// zero means no per-call budget beyond the caller's context.
func NewExecutor(registry *Registry, callTimeout time.Duration) *Executor {
	return &Executor{registry: registry, callTimeout: callTimeout}
}

// ExecuteBatch resolves a batch of tool calls. Validation failures and
// execution errors are recorded per-call in the results and never abort the
// batch (except sequential HaltsOnError); the caller decides how to surface
// them. Results are returned in call order for both modes.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []model.ToolCall, mode ExecMode) []model.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	if mode == ModeParallel {
		results := make([]model.ToolResult, len(calls))
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range calls {
			g.Go(func() error {
				results[i] = e.run(gctx, call)
				return nil // failures live in the result, never cancel siblings
			})
		}
		_ = g.Wait()
		return results
	}

	results := make([]model.ToolResult, 0, len(calls))
	for _, call := range calls {
		res := e.run(ctx, call)
		results = append(results, res)
		if res.Failed() {
			if def, ok := e.registry.Get(call.Name); ok && def.HaltsOnError {
				break
			}
		}
	}
	return results
}

// run executes a single call: validate input, then invoke with the per-call
// budget. Panics inside a tool are isolated as execution errors.
func (e *Executor) run(ctx context.Context, call model.ToolCall) (result model.ToolResult) {
	start := time.Now()
	result = model.ToolResult{CallID: call.ID, Name: call.Name}
	defer func() {
		if r := recover(); r != nil {
			result.ErrorKind = model.ToolExecutionError
			result.Err = fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
		result.Duration = time.Since(start)
	}()

	def, ok := e.registry.Get(call.Name)
	if !ok {
		result.ErrorKind = model.ToolInvalidInput
		result.Err = fmt.Errorf("unknown tool %q", call.Name)
		return result
	}

	if err := e.registry.validate(call.Name, call.Arguments); err != nil {
		result.ErrorKind = model.ToolInvalidInput
		result.Err = fmt.Errorf("tool %q input: %w", call.Name, err)
		return result
	}

	runCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	output, err := def.Execute(runCtx, call.Arguments)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.ErrorKind = model.ToolTimeout
		} else {
			result.ErrorKind = model.ToolExecutionError
		}
		result.Err = err
		return result
	}

	result.Output = output
	return result
}
