package core

import (
	"fmt"
	"sync"
	"time"
)

// SessionOptions configures a new Session.
type SessionOptions struct {
	// StepBudget bounds the think steps of a single turn. Defaults to DefaultStepBudget.
	StepBudget int
	// SystemPrompt is passed to the planner on every step.
	SystemPrompt string
	// NextStepPrompt, when set, is offered to the planner after the history on
	// every step. It is never recorded in the history.
	NextStepPrompt string
	// Tools is the toolbox the agent may call.
	Tools Toolbox
}

// Session is the per-conversation container: an append-only message history,
// the agent lifecycle state and the step counter of the current turn. It is
// safe for concurrent access.
//
// Contract:
//   - History returns a defensive copy; there is no removal API
//   - Begin is the only way into Running and fails unless the state is Idle
//   - Reset returns to Idle and zeroes the step counter, keeping the history
type Session struct {
	ID             string
	SystemPrompt   string
	NextStepPrompt string
	Tools          Toolbox
	Created        time.Time

	mu      sync.RWMutex
	history []Message
	state   AgentState
	steps   *StepCounter
	updated time.Time
}

// NewSession creates an Idle session with the given ID.
func NewSession(id string, optFns ...func(o *SessionOptions)) *Session {
	opts := SessionOptions{StepBudget: DefaultStepBudget}
	for _, fn := range optFns {
		fn(&opts)
	}
	now := time.Now()
	return &Session{
		ID:             id,
		SystemPrompt:   opts.SystemPrompt,
		NextStepPrompt: opts.NextStepPrompt,
		Tools:          opts.Tools,
		Created:        now,
		state:          StateIdle,
		steps:          NewStepCounter(opts.StepBudget),
		updated:        now,
	}
}

// Begin atomically moves an Idle session to Running and zeroes the step counter.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: session %q is %s", ErrInvalidState, s.ID, s.state)
	}
	s.state = StateRunning
	s.steps.Reset()
	s.updated = time.Now()
	return nil
}

// Transition moves the session to next if the lifecycle allows it.
func (s *Session) Transition(next AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransition(next) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, s.state, next)
	}
	s.state = next
	s.updated = time.Now()
	return nil
}

// Reset returns the session to Idle with a zero step counter. History is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.steps.Reset()
	s.updated = time.Now()
}

// State returns the current lifecycle state.
func (s *Session) State() AgentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Append adds messages to the end of the history.
func (s *Session) Append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
	s.updated = time.Now()
}

// History returns a copy of the full history.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of history entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// NextStep advances the step counter. ok is false once the budget is spent.
func (s *Session) NextStep() (int, bool) {
	return s.steps.Next()
}

// StepCount returns the steps taken in the current turn.
func (s *Session) StepCount() int { return s.steps.Count() }

// StepBudget returns the per-turn step budget.
func (s *Session) StepBudget() int { return s.steps.Budget() }

// Touch marks the session active at t. Earlier times are ignored.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.updated) {
		s.updated = t
	}
}

// LastActive returns the time of the last mutation.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
