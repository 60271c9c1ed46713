package core

import "context"

// ToolSpec describes a tool to the planner. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Toolbox is the set of tools available to an agent. Invoke returns the tool
// output text; unknown names yield an error wrapping ErrToolNotFound.
type Toolbox interface {
	Specs() []ToolSpec
	Invoke(ctx context.Context, call ToolCall) (string, error)
}
