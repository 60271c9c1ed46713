package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/campusagent/core"
)

// ErrScriptExhausted is returned when a ScriptedPlanner runs out of replies.
var ErrScriptExhausted = errors.New("planner script exhausted")

// Reply is one scripted planner response.
type Reply struct {
	Result core.PlanResult
	Err    error
	// Delay postpones the reply; the wait is cut short by ctx.
	Delay time.Duration
	// Block waits until ctx is done and returns its error.
	Block bool
}

// ScriptedPlanner replays replies in order and records every request.
type ScriptedPlanner struct {
	mu       sync.Mutex
	replies  []Reply
	requests []core.PlanRequest
	// Repeat makes the last reply repeat forever instead of exhausting.
	Repeat bool
}

// NewScriptedPlanner creates a planner answering with the given replies.
func NewScriptedPlanner(replies ...Reply) *ScriptedPlanner {
	return &ScriptedPlanner{replies: replies}
}

// AnswerReply is a reply with a final answer.
func AnswerReply(text string) Reply {
	return Reply{Result: core.Answer(text)}
}

// CallReply is a reply requesting a single tool call.
func CallReply(id, name, args string) Reply {
	return Reply{Result: core.Calls("", core.ToolCall{ID: id, Name: name, Arguments: args})}
}

// ErrReply is a failing reply.
func ErrReply(err error) Reply {
	return Reply{Err: err}
}

// Plan implements core.Planner.
func (p *ScriptedPlanner) Plan(ctx context.Context, req core.PlanRequest) (core.PlanResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		p.mu.Unlock()
		return core.PlanResult{}, ErrScriptExhausted
	}
	r := p.replies[0]
	if len(p.replies) > 1 || !p.Repeat {
		p.replies = p.replies[1:]
	}
	p.mu.Unlock()

	if r.Block {
		<-ctx.Done()
		return core.PlanResult{}, ctx.Err()
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return core.PlanResult{}, ctx.Err()
		}
	}
	return r.Result, r.Err
}

// Requests returns the recorded requests.
func (p *ScriptedPlanner) Requests() []core.PlanRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.PlanRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns the number of Plan invocations.
func (p *ScriptedPlanner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
