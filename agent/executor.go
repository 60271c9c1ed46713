package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/tool"
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// ToolTimeout bounds each tool call. Zero means no per-call limit; only
	// the turn context applies.
	ToolTimeout time.Duration
	Logger      logging.Logger
	Observer    Observer
}

// Executor runs the tool calls of one step sequentially and turns every
// outcome, including errors and panics, into a tool result message.
type Executor struct {
	opts ExecutorOptions
}

// NewExecutor creates an Executor.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Logger:   logging.NoOpLogger{},
		Observer: NoOpObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{opts: opts}
}

// Execute invokes each call in order and returns exactly one tool result
// message per call, in call order. terminated reports whether the terminate
// tool ran successfully. Once ctx is done the remaining calls are not run and
// receive the cancellation error as payload.
func (e *Executor) Execute(ctx context.Context, tb core.Toolbox, calls []core.ToolCall) (results []core.Message, terminated bool) {
	results = make([]core.Message, 0, len(calls))

	for _, call := range calls {
		start := time.Now()

		var (
			out string
			err error
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			out, err = e.invoke(ctx, tb, call)
		}
		dur := time.Since(start)

		logging.LogToolCall(e.opts.Logger, call.Name, dur, err)
		e.opts.Observer.ToolCompleted(call.Name, dur, err)

		res := core.ToolResult{CallID: call.ID, Name: call.Name, Payload: out}
		if err != nil {
			res.Payload = "Error: " + err.Error()
			res.IsError = true
		} else if call.Name == tool.TerminateName {
			terminated = true
		}
		results = append(results, core.ToolResultMessage(res))
	}

	return results, terminated
}

func (e *Executor) invoke(ctx context.Context, tb core.Toolbox, call core.ToolCall) (string, error) {
	if tb == nil {
		return "", &tool.ToolError{Tool: call.Name, Message: "no tools are configured", Code: tool.CodeNotFound, Cause: core.ErrToolNotFound}
	}
	if e.opts.ToolTimeout <= 0 {
		return e.safeInvoke(ctx, tb, call)
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.ToolTimeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.safeInvoke(tctx, tb, call)
		done <- result{out, err}
	}()

	var r result
	select {
	case r = <-done:
		if r.err == nil {
			return r.out, nil
		}
	case <-tctx.Done():
	}

	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return "", &tool.ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("timed out after %s", e.opts.ToolTimeout),
			Code:    tool.CodeTimeout,
			Cause:   context.DeadlineExceeded,
		}
	}
	return r.out, r.err
}

// safeInvoke converts a panicking tool into a PANIC tool error.
func (e *Executor) safeInvoke(ctx context.Context, tb core.Toolbox, call core.ToolCall) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("tool.call.panic", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
			err = &tool.ToolError{Tool: call.Name, Message: fmt.Sprintf("panic: %v", r), Code: tool.CodePanic}
		}
	}()
	return tb.Invoke(ctx, call)
}
