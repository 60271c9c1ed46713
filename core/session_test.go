package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to AgentState
		want     bool
	}{
		{StateIdle, StateRunning, true},
		{StateIdle, StateFinished, false},
		{StateRunning, StateFinished, true},
		{StateRunning, StateError, true},
		{StateRunning, StateIdle, false},
		{StateFinished, StateIdle, true},
		{StateError, StateIdle, true},
		{StateFinished, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSession_BeginRequiresIdle(t *testing.T) {
	s := NewSession("s1")
	require.NoError(t, s.Begin())
	assert.Equal(t, StateRunning, s.State())

	err := s.Begin()
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Transition(StateFinished))
	assert.ErrorIs(t, s.Transition(StateRunning), ErrInvalidState)

	s.Reset()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.StepCount())
}

func TestSession_BeginIsExclusive(t *testing.T) {
	s := NewSession("s1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Begin() == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSession_HistoryIsCopied(t *testing.T) {
	s := NewSession("s1")
	s.Append(UserMessage("hi"), AssistantMessage("hello"))

	h := s.History()
	require.Len(t, h, 2)
	h[0].Text = "changed"
	assert.Equal(t, "hi", s.History()[0].Text)
	assert.Equal(t, 2, s.Len())
}

func TestSession_StepBudget(t *testing.T) {
	s := NewSession("s1", func(o *SessionOptions) { o.StepBudget = 2 })
	assert.Equal(t, 2, s.StepBudget())

	step, ok := s.NextStep()
	assert.True(t, ok)
	assert.Equal(t, 1, step)
	_, ok = s.NextStep()
	assert.True(t, ok)
	_, ok = s.NextStep()
	assert.False(t, ok)
	assert.Equal(t, 2, s.StepCount())

	s.Reset()
	assert.Equal(t, 0, s.StepCount())
}

func TestNewStepCounter_DefaultsNonPositive(t *testing.T) {
	assert.Equal(t, DefaultStepBudget, NewStepCounter(0).Budget())
	assert.Equal(t, DefaultStepBudget, NewStepCounter(-3).Remaining())
}

func TestCalls_EmptyDegradesToAnswer(t *testing.T) {
	p := Calls("thinking")
	assert.Equal(t, PlanAnswer, p.Kind)
	assert.Empty(t, p.Text)

	p = Calls("", ToolCall{ID: "1", Name: "x"})
	assert.Equal(t, PlanToolCalls, p.Kind)
	assert.Len(t, p.ToolCalls, 1)
}

func TestSession_Touch(t *testing.T) {
	s := NewSession("s")
	later := s.LastActive().Add(time.Hour)

	s.Touch(later)
	assert.Equal(t, later, s.LastActive())

	s.Touch(later.Add(-time.Minute))
	assert.Equal(t, later, s.LastActive())
}
