package testutil

import (
	"github.com/hupe1980/campusagent/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Budget(3).Tools(reg).History(msg).Build()
type SessionBuilder struct {
	id      string
	opts    core.SessionOptions
	history []core.Message
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, opts: core.SessionOptions{StepBudget: core.DefaultStepBudget}}
}

// Budget sets the per-turn step budget (chainable).
func (b *SessionBuilder) Budget(n int) *SessionBuilder {
	b.opts.StepBudget = n
	return b
}

// SystemPrompt sets the system prompt (chainable).
func (b *SessionBuilder) SystemPrompt(p string) *SessionBuilder {
	b.opts.SystemPrompt = p
	return b
}

// NextStepPrompt sets the next-step prompt (chainable).
func (b *SessionBuilder) NextStepPrompt(p string) *SessionBuilder {
	b.opts.NextStepPrompt = p
	return b
}

// Tools sets the toolbox (chainable).
func (b *SessionBuilder) Tools(tb core.Toolbox) *SessionBuilder {
	b.opts.Tools = tb
	return b
}

// History pre-populates the history (chainable).
func (b *SessionBuilder) History(msgs ...core.Message) *SessionBuilder {
	b.history = append(b.history, msgs...)
	return b
}

// Build returns an Idle *core.Session.
func (b *SessionBuilder) Build() *core.Session {
	opts := b.opts
	s := core.NewSession(b.id, func(o *core.SessionOptions) { *o = opts })
	if len(b.history) > 0 {
		s.Append(b.history...)
	}
	return s
}
