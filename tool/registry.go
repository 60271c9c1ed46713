package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
)

var (
	// ErrEmptyName is returned when a tool has a blank name.
	ErrEmptyName = errors.New("tool name is empty")
	// ErrAlreadyExists is returned when two tools share a name.
	ErrAlreadyExists = errors.New("tool already registered")
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry is an immutable, validated set of tools. It implements
// core.Toolbox and is safe for concurrent use.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger logging.Logger
}

// NewRegistry validates that every tool has a unique non-empty name.
func NewRegistry(tools []Tool, optFns ...func(o *RegistryOptions)) (*Registry, error) {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{tools: make(map[string]Tool, len(tools)), logger: opts.Logger}
	for _, t := range tools {
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, ErrEmptyName
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on invalid input.
func MustRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools)
	if err != nil {
		panic(err)
	}
	return r
}

// Specs returns the tool descriptions in registration order.
func (r *Registry) Specs() []core.ToolSpec {
	specs := make([]core.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, SpecOf(r.tools[name]))
	}
	return specs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Invoke decodes the call arguments and runs the named tool. Unknown names
// produce a *ToolError wrapping core.ErrToolNotFound.
func (r *Registry) Invoke(ctx context.Context, call core.ToolCall) (string, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return "", &ToolError{Tool: call.Name, Message: "no tool with this name is registered", Code: CodeNotFound, Cause: core.ErrToolNotFound}
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return "", &ToolError{Tool: call.Name, Message: err.Error(), Code: CodeValidation, Cause: err}
	}

	start := time.Now()
	r.logger.Debug("tool.call.start", "tool", call.Name, "call_id", call.ID)

	out, err := t.Call(ctx, args)
	if err != nil {
		r.logger.Warn("tool.call.error", "tool", call.Name, "call_id", call.ID, "error", err.Error())
		return "", err
	}

	r.logger.Info("tool.call.success", "tool", call.Name, "call_id", call.ID, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func decodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
