package core

import (
	"context"
	"time"
)

// PlanKind discriminates the two possible planner outcomes.
type PlanKind int

const (
	// PlanAnswer is a final answer, possibly empty.
	PlanAnswer PlanKind = iota
	// PlanToolCalls is a non-empty ordered list of tool calls.
	PlanToolCalls
)

func (k PlanKind) String() string {
	if k == PlanToolCalls {
		return "tool_calls"
	}
	return "answer"
}

// PlanResult is the outcome of one think step.
type PlanResult struct {
	Kind      PlanKind
	Text      string
	ToolCalls []ToolCall
	// Reasoning is model text that accompanied tool calls. It is recorded with
	// the assistant message but never treated as an answer on its own.
	Reasoning string
}

// Answer returns a final-answer plan.
func Answer(text string) PlanResult {
	return PlanResult{Kind: PlanAnswer, Text: text}
}

// Calls returns a tool-call plan. Without calls it degrades to an empty answer.
func Calls(reasoning string, calls ...ToolCall) PlanResult {
	if len(calls) == 0 {
		return Answer("")
	}
	return PlanResult{Kind: PlanToolCalls, ToolCalls: append([]ToolCall(nil), calls...), Reasoning: reasoning}
}

// PlanRequest carries everything a Planner may look at. History is a copy.
// NextStepPrompt, when set, is presented after the history as a user turn
// but is not part of it.
type PlanRequest struct {
	History        []Message
	SystemPrompt   string
	NextStepPrompt string
	Tools          []ToolSpec
}

// Planner decides the next action given the conversation so far.
// Implementations must not retain or mutate the request history.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (PlanResult, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, req PlanRequest) (PlanResult, error)

// Plan calls f.
func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	return f(ctx, req)
}

// StepKind labels a trace entry.
type StepKind string

const (
	StepThink    StepKind = "think"
	StepThinkAct StepKind = "think+act"
)

// StepTrace records one iteration of the loop.
type StepTrace struct {
	Step    int
	Kind    StepKind
	Tools   []string
	Summary string
}

// TurnOutcome summarizes a completed turn.
type TurnOutcome struct {
	SessionID string
	Input     string
	// State is the terminal state reached before the session was reset.
	State            AgentState
	Steps            int
	Trace            []StepTrace
	StepLimitReached bool
	Terminated       bool
	// HistoryStart is the index of the turn's user message in the history.
	HistoryStart int
	Err          error
	Duration     time.Duration
}
