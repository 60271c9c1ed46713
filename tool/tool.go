// Package tool implements the tool calling subsystem: the Tool interface,
// a schema validated FunctionTool adapter, the immutable Registry handed to
// agents as their core.Toolbox and the built-in terminate and knowledge
// search tools.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/internal/util"
)

// Tool is a named capability the planner may invoke.
//
// Tool implementations should:
//   - Provide a unique snake_case name and a description aimed at the model
//   - Declare a JSON schema for their arguments
//   - Return errors instead of panicking
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments and returns its output text.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// SpecOf returns the planner facing description of t.
func SpecOf(t Tool) core.ToolSpec {
	return core.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
}

// ValidationError represents argument validation errors.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeTimeout    = "TIMEOUT"
	CodePanic      = "PANIC"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Cause   error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
