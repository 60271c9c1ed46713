package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/internal/testutil"
	"github.com/hupe1980/campusagent/tool"
)

func echoTool() tool.Tool {
	return tool.NewFunctionTool("echo", "Echo the input", nil, func(_ context.Context, args map[string]any) (any, error) {
		return fmt.Sprintf("echo:%v", args["text"]), nil
	})
}

func newSession(budget int) *core.Session {
	return testutil.NewSessionBuilder("s1").
		Budget(budget).
		Tools(tool.MustRegistry(echoTool(), tool.Terminate())).
		Build()
}

type recordingObserver struct {
	NoOpObserver
	mu       sync.Mutex
	started  int
	steps    []core.StepTrace
	tools    []string
	outcomes []*core.TurnOutcome
}

func (o *recordingObserver) TurnStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) StepCompleted(_ string, st core.StepTrace, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, st)
}

func (o *recordingObserver) ToolCompleted(name string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, name)
}

func (o *recordingObserver) TurnCompleted(out *core.TurnOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func TestRunTurn_DirectAnswer(t *testing.T) {
	p := testutil.NewScriptedPlanner(testutil.AnswerReply("The library opens at 8am."))
	obs := &recordingObserver{}
	loop := NewLoop(p, func(o *LoopOptions) { o.Observer = obs })
	sess := newSession(10)

	var progress []Progress
	out, err := loop.RunTurn(context.Background(), sess, "When does the library open?", func(pr Progress) {
		progress = append(progress, pr)
	})
	require.NoError(t, err)

	assert.Equal(t, core.StateFinished, out.State)
	assert.Equal(t, 1, out.Steps)
	assert.NoError(t, out.Err)
	assert.Empty(t, progress)
	require.Len(t, out.Trace, 1)
	assert.Equal(t, core.StepThink, out.Trace[0].Kind)

	h := sess.History()
	require.Len(t, h, 2)
	assert.Equal(t, core.RoleUser, h[0].Role)
	assert.Equal(t, core.RoleAssistant, h[1].Role)
	assert.Equal(t, "The library opens at 8am.", h[1].Text)

	assert.Equal(t, core.StateIdle, sess.State())
	assert.Equal(t, 0, sess.StepCount())

	assert.Equal(t, 1, obs.started)
	assert.Len(t, obs.steps, 1)
	require.Len(t, obs.outcomes, 1)
	assert.Same(t, out, obs.outcomes[0])
}

func TestRunTurn_RejectsBusySession(t *testing.T) {
	p := testutil.NewScriptedPlanner(testutil.AnswerReply("x"))
	loop := NewLoop(p)
	sess := newSession(10)
	sess.Append(core.UserMessage("earlier"))
	require.NoError(t, sess.Begin())

	out, err := loop.RunTurn(context.Background(), sess, "hello", nil)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Nil(t, out)
	assert.Equal(t, 1, sess.Len())
	assert.Equal(t, core.StateRunning, sess.State())
	assert.Zero(t, p.Calls())
}

func TestRunTurn_BlankInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		p := testutil.NewScriptedPlanner()
		sess := newSession(10)

		out, err := NewLoop(p).RunTurn(context.Background(), sess, input, nil)
		assert.ErrorIs(t, err, core.ErrEmptyInput)
		assert.Nil(t, out)
		assert.Zero(t, sess.Len())
		assert.Equal(t, core.StateIdle, sess.State())
		assert.Zero(t, p.Calls())
	}
}

func TestRunTurn_StepBudgetExhausted(t *testing.T) {
	const budget = 3
	p := testutil.NewScriptedPlanner(testutil.CallReply("c", "echo", `{"text":"ok"}`))
	p.Repeat = true
	sess := newSession(budget)

	out, err := NewLoop(p).RunTurn(context.Background(), sess, "keep going", nil)
	require.NoError(t, err)

	assert.Equal(t, core.StateFinished, out.State)
	assert.True(t, out.StepLimitReached)
	assert.False(t, out.Terminated)
	assert.Equal(t, budget, out.Steps)
	assert.Equal(t, budget, p.Calls())
	// user + budget * (assistant call + tool result)
	assert.Equal(t, 1+2*budget, sess.Len())
	assert.Equal(t, core.StateIdle, sess.State())
	assert.Equal(t, 0, sess.StepCount())
}

func TestRunTurn_TerminateStopsLoop(t *testing.T) {
	p := testutil.NewScriptedPlanner(testutil.CallReply("c1", tool.TerminateName, "{}"))
	sess := newSession(10)

	out, err := NewLoop(p).RunTurn(context.Background(), sess, "bye", nil)
	require.NoError(t, err)

	assert.Equal(t, core.StateFinished, out.State)
	assert.True(t, out.Terminated)
	assert.Equal(t, 1, out.Steps)
	assert.Equal(t, 1, p.Calls())

	h := sess.History()
	require.Len(t, h, 3)
	require.NotNil(t, h[2].ToolResult)
	assert.Equal(t, tool.TerminateResult, h[2].ToolResult.Payload)
}

func TestRunTurn_ToolThenAnswer(t *testing.T) {
	p := testutil.NewScriptedPlanner(
		testutil.CallReply("c1", "echo", `{"text":"library hours"}`),
		testutil.AnswerReply("Open 8am to 10pm."),
	)
	sess := newSession(10)

	var labels []string
	out, err := NewLoop(p).RunTurn(context.Background(), sess, "library?", func(pr Progress) {
		labels = append(labels, pr.Label)
	})
	require.NoError(t, err)

	assert.Equal(t, core.StateFinished, out.State)
	assert.Equal(t, 2, out.Steps)
	assert.Equal(t, []string{"Step 1: using echo"}, labels)

	h := sess.History()
	require.Len(t, h, 4)
	require.Len(t, h[1].ToolCalls, 1)
	require.NotNil(t, h[2].ToolResult)
	assert.Equal(t, "c1", h[2].ToolResult.CallID)
	assert.Equal(t, "echo:library hours", h[2].ToolResult.Payload)
	assert.Equal(t, "Open 8am to 10pm.", h[3].Text)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].History, 3)
	assert.Len(t, reqs[1].Tools, 2)
}

func TestRunTurn_ProgressUsesDisplayNames(t *testing.T) {
	p := testutil.NewScriptedPlanner(
		testutil.Reply{Result: core.Calls("",
			core.ToolCall{ID: "a", Name: "echo", Arguments: `{"text":"1"}`},
			core.ToolCall{ID: "b", Name: tool.TerminateName},
		)},
	)
	loop := NewLoop(p, func(o *LoopOptions) {
		o.DisplayNames = tool.DefaultDisplayNames.Merge(map[string]string{"echo": "Echo"})
	})

	var got []Progress
	_, err := loop.RunTurn(context.Background(), newSession(10), "go", func(pr Progress) { got = append(got, pr) })
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Step)
	assert.Equal(t, []string{"echo", tool.TerminateName}, got[0].Tools)
	assert.Equal(t, "Step 1: using Echo, Terminate", got[0].Label)
}

func TestRunTurn_UnknownToolContinues(t *testing.T) {
	p := testutil.NewScriptedPlanner(
		testutil.CallReply("c1", "missing_tool", "{}"),
		testutil.AnswerReply("Sorry, I could not look that up."),
	)
	sess := newSession(10)

	out, err := NewLoop(p).RunTurn(context.Background(), sess, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, out.State)
	assert.Equal(t, 2, out.Steps)

	res := sess.History()[2].ToolResult
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Payload, "Error: ")
	assert.Contains(t, res.Payload, tool.CodeNotFound)
}

func TestRunTurn_PlannerFailure(t *testing.T) {
	p := testutil.NewScriptedPlanner(testutil.ErrReply(fmt.Errorf("%w: connection refused", core.ErrModelUnavailable)))
	sess := newSession(10)

	out, err := NewLoop(p).RunTurn(context.Background(), sess, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, core.StateError, out.State)
	assert.ErrorIs(t, out.Err, core.ErrModelUnavailable)
	assert.Equal(t, 1, out.Steps)
	assert.Equal(t, 1, p.Calls())

	h := sess.History()
	require.Len(t, h, 2)
	assert.Equal(t, core.RoleAssistant, h[1].Role)
	assert.Contains(t, h[1].Text, "An error occurred while planning: ")
	assert.Contains(t, h[1].Text, "connection refused")

	assert.Equal(t, core.StateIdle, sess.State())
	assert.Equal(t, 0, sess.StepCount())
}

func TestRunTurn_Canceled(t *testing.T) {
	p := testutil.NewScriptedPlanner(testutil.Reply{Block: true})
	sess := newSession(10)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out, err := NewLoop(p).RunTurn(ctx, sess, "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, core.StateError, out.State)
	assert.ErrorIs(t, out.Err, context.Canceled)

	// no diagnostic for a canceled turn
	assert.Equal(t, 1, sess.Len())
	assert.Equal(t, core.StateIdle, sess.State())
	assert.Equal(t, 0, sess.StepCount())
}

func TestRunTurn_PlannerPanicRecovers(t *testing.T) {
	p := core.PlannerFunc(func(context.Context, core.PlanRequest) (core.PlanResult, error) {
		panic("boom")
	})
	sess := newSession(10)

	out, err := NewLoop(p).RunTurn(context.Background(), sess, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, core.StateError, out.State)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "boom")
	assert.Equal(t, core.StateIdle, sess.State())
	assert.Equal(t, 0, sess.StepCount())
}

func TestRunTurn_SessionReusableAfterTurn(t *testing.T) {
	p := testutil.NewScriptedPlanner(
		testutil.ErrReply(errors.New("transient")),
		testutil.AnswerReply("second"),
	)
	loop := NewLoop(p)
	sess := newSession(10)

	out, err := loop.RunTurn(context.Background(), sess, "one", nil)
	require.NoError(t, err)
	assert.Equal(t, core.StateError, out.State)

	out, err = loop.RunTurn(context.Background(), sess, "two", nil)
	require.NoError(t, err)
	assert.Equal(t, core.StateFinished, out.State)
	assert.Equal(t, 2, out.HistoryStart)
	assert.Equal(t, 4, sess.Len())
}

func TestRunTurn_ConcurrentTurnsOnOneSession(t *testing.T) {
	p := testutil.NewScriptedPlanner(testutil.Reply{Result: core.Answer("done"), Delay: 30 * time.Millisecond})
	p.Repeat = true
	loop := NewLoop(p)
	sess := newSession(10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loop.RunTurn(context.Background(), sess, "hi", nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, core.ErrInvalidState)
				rejected++
				return
			}
			accepted++
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, accepted, 1)
	assert.Equal(t, 5, accepted+rejected)
	assert.Equal(t, 2*accepted, sess.Len())
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a b", clip("a\n  b", 10))
	assert.Equal(t, "héll...", clip("héllo", 4))
}
