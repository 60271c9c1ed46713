package tool

import "context"

// TerminateName is the reserved name of the tool that ends a turn.
const TerminateName = "terminate"

// TerminateResult is the payload recorded when the terminate tool runs.
const TerminateResult = "Task completed"

type terminateTool struct{}

// Terminate returns the tool the model calls to end the turn explicitly.
func Terminate() Tool { return terminateTool{} }

func (terminateTool) Name() string { return TerminateName }

func (terminateTool) Description() string {
	return "Terminate the interaction when the request is met or if you cannot proceed further with the task. " +
		"When you have finished all the tasks, call this tool to end the work."
}

func (terminateTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (terminateTool) Call(context.Context, map[string]any) (string, error) {
	return TerminateResult, nil
}
