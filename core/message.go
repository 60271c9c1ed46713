package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to invoke a named tool. Arguments is the raw
// JSON object the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the textual outcome of one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Payload string `json:"payload"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is a single history entry. Assistant messages may carry ToolCalls,
// tool messages always carry a ToolResult.
type Message struct {
	Role       Role        `json:"role"`
	Text       string      `json:"text,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// UserMessage creates a user entry.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text, Timestamp: time.Now()}
}

// AssistantMessage creates an assistant entry with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	m := Message{Role: RoleAssistant, Text: text, Timestamp: time.Now()}
	if len(calls) > 0 {
		m.ToolCalls = append([]ToolCall(nil), calls...)
	}
	return m
}

// ToolResultMessage creates a tool entry.
func ToolResultMessage(res ToolResult) Message {
	return Message{Role: RoleTool, Text: res.Payload, ToolResult: &res, Timestamp: time.Now()}
}

// IsToolResult reports whether m carries a tool result.
func (m Message) IsToolResult() bool {
	return m.Role == RoleTool && m.ToolResult != nil
}

// NewID returns a random identifier suitable for tool call and stream ids.
func NewID() string {
	return uuid.NewString()
}
