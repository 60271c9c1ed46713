package model

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/campusagent/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// DefinitionsFromSpecs converts tool specs into model tool definitions.
func DefinitionsFromSpecs(specs []core.ToolSpec) []ToolDefinition {
	if len(specs) == 0 {
		return nil
	}
	defs := make([]ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = ToolDefinition{Type: "function", Function: FunctionDefinition{Name: s.Name, Description: s.Description, Parameters: s.Parameters}}
	}
	return defs
}

// Request captures the normalized model input.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Exactly one
// non-partial response ends a successful generation.
type Response struct {
	ID           string          `json:"id"`
	Partial      bool            `json:"partial"`
	Text         string          `json:"text"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the planner drives generation through.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoReply is returned by ScriptedModel once its script is exhausted.
var ErrNoReply = errors.New("scripted model has no reply left")

// ScriptedReply is one canned ScriptedModel generation.
type ScriptedReply struct {
	Response Response
	Err      error
}

// ScriptedModel is an in-memory Model that replays canned replies in order.
// It records every request and is useful for tests and examples.
type ScriptedModel struct {
	info     Info
	mu       sync.Mutex
	replies  []ScriptedReply
	requests []Request
}

// NewScriptedModel constructs a ScriptedModel with tool support enabled.
func NewScriptedModel(replies ...ScriptedReply) *ScriptedModel {
	return &ScriptedModel{info: Info{Name: "scripted", Provider: "scripted", SupportsTools: true}, replies: replies}
}

// Text returns a reply with a plain text completion.
func Text(s string) ScriptedReply {
	return ScriptedReply{Response: Response{Text: s, FinishReason: "stop"}}
}

// ToolCalls returns a reply requesting the given tool calls.
func ToolCalls(reasoning string, calls ...core.ToolCall) ScriptedReply {
	return ScriptedReply{Response: Response{Text: reasoning, ToolCalls: calls, FinishReason: "tool_calls"}}
}

// Failure returns a reply that fails with err.
func Failure(err error) ScriptedReply {
	return ScriptedReply{Err: err}
}

// Generate implements Model. With Stream set the text is first emitted rune
// by rune as partial responses.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var (
		reply ScriptedReply
		ok    bool
	)
	if len(m.replies) > 0 {
		reply, ok = m.replies[0], true
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if !ok {
			errCh <- ErrNoReply
			return
		}
		if reply.Err != nil {
			errCh <- reply.Err
			return
		}
		if req.Stream {
			for _, r := range reply.Response.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- reply.Response:
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Requests returns the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
