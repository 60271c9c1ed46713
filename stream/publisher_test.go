package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/campusagent/agent"
	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/internal/testutil"
	"github.com/hupe1980/campusagent/synth"
	"github.com/hupe1980/campusagent/tool"
)

type recordingObserver struct {
	mu      sync.Mutex
	opened  int
	reasons []CloseReason
}

func (o *recordingObserver) StreamOpened() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *recordingObserver) StreamClosed(r CloseReason, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, r)
}

func (o *recordingObserver) closed() []CloseReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]CloseReason(nil), o.reasons...)
}

func newPublisher(p core.Planner, optFns ...func(o *Options)) *Publisher {
	fns := append([]func(o *Options){func(o *Options) { o.Interval = time.Millisecond }}, optFns...)
	return New(agent.NewLoop(p), synth.New(), fns...)
}

func newSession() *core.Session {
	echo := tool.NewFunctionTool("echo", "Echo", nil, func(_ context.Context, args map[string]any) (any, error) {
		return fmt.Sprint(args["text"]), nil
	})
	return testutil.NewSessionBuilder("s1").Tools(tool.MustRegistry(echo, tool.Terminate())).Build()
}

func drain(sub *Subscription) []Frame {
	var frames []Frame
	for f := range sub.Frames {
		frames = append(frames, f)
	}
	return frames
}

func TestOpen_DirectAnswer(t *testing.T) {
	obs := &recordingObserver{}
	pub := newPublisher(testutil.NewScriptedPlanner(testutil.AnswerReply("Hello world")), func(o *Options) { o.Observer = obs })
	sess := newSession()

	sub := pub.Open(context.Background(), sess, "hi")
	require.NotEmpty(t, sub.ID)

	frames := drain(sub)
	assert.Equal(t, []Frame{
		Progress(DefaultThinkingStart),
		Progress(DefaultThinkingEnd),
		Chunk("Hell"),
		Chunk("o wo"),
		Chunk("rld"),
		Done(),
	}, frames)

	assert.Equal(t, core.StateIdle, sess.State())
	assert.Eventually(t, func() bool { return len(obs.closed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []CloseReason{ReasonCompleted}, obs.closed())
	assert.Eventually(t, func() bool { return pub.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOpen_ToolProgress(t *testing.T) {
	pub := newPublisher(testutil.NewScriptedPlanner(
		testutil.CallReply("c1", "echo", `{"text":"campus map"}`),
		testutil.AnswerReply("Here it is."),
	))

	tr := Collect(pub.Open(context.Background(), newSession(), "map please").Frames)
	assert.Equal(t, []string{DefaultThinkingStart, "Step 1: using echo", DefaultThinkingEnd}, tr.Progress)
	assert.Equal(t, "Here it is.", tr.Text)
	assert.True(t, tr.Done)
	assert.Empty(t, tr.Err)
}

func TestOpen_ChunksReassembleFinalText(t *testing.T) {
	answer := "## Library\n**Opening hours**: 8am – 10pm\n* Main building\n* Law library\nSee https://lib.hku.hk for details."
	pub := newPublisher(testutil.NewScriptedPlanner(testutil.AnswerReply(answer)), func(o *Options) { o.ChunkSize = 3 })

	tr := Collect(pub.Open(context.Background(), newSession(), "library?").Frames)
	assert.Equal(t, synth.NewNormalizer(nil).Normalize(answer), tr.Text)
}

func TestOpen_PlannerFailure(t *testing.T) {
	pub := newPublisher(testutil.NewScriptedPlanner(testutil.ErrReply(fmt.Errorf("%w: 503", core.ErrModelUnavailable))))
	sess := newSession()

	frames := drain(pub.Open(context.Background(), sess, "hi"))
	require.Len(t, frames, 3)
	assert.Equal(t, Progress(DefaultThinkingStart), frames[0])
	assert.Equal(t, KindChunk, frames[1].Kind)
	assert.Contains(t, frames[1].Text, "Execution error: model unavailable: 503")
	assert.Equal(t, Done(), frames[2])

	assert.Equal(t, core.StateIdle, sess.State())
	h := sess.History()
	require.Len(t, h, 2)
	assert.Contains(t, h[1].Text, "An error occurred while planning")
}

func TestOpen_Rejected(t *testing.T) {
	t.Run("blank input", func(t *testing.T) {
		pub := newPublisher(testutil.NewScriptedPlanner())
		sess := newSession()

		frames := drain(pub.Open(context.Background(), sess, "   "))
		assert.Equal(t, []Frame{Error(core.ErrEmptyInput.Error()), Done()}, frames)
		assert.Zero(t, sess.Len())
	})

	t.Run("busy session", func(t *testing.T) {
		pub := newPublisher(testutil.NewScriptedPlanner())
		sess := newSession()
		require.NoError(t, sess.Begin())

		frames := drain(pub.Open(context.Background(), sess, "hi"))
		require.Len(t, frames, 2)
		assert.Equal(t, KindError, frames[0].Kind)
		assert.Contains(t, frames[0].Text, core.ErrInvalidState.Error())
		assert.Equal(t, Done(), frames[1])
	})
}

func TestOpen_Timeout(t *testing.T) {
	obs := &recordingObserver{}
	pub := newPublisher(testutil.NewScriptedPlanner(testutil.Reply{Block: true}), func(o *Options) {
		o.Timeout = 30 * time.Millisecond
		o.Observer = obs
	})
	sess := newSession()

	start := time.Now()
	frames := drain(pub.Open(context.Background(), sess, "slow question"))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []Frame{Progress(DefaultThinkingStart), Error(core.ErrStreamTimeout.Error())}, frames)
	assert.Eventually(t, func() bool { return sess.State() == core.StateIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sess.StepCount())
	assert.Eventually(t, func() bool { return len(obs.closed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []CloseReason{ReasonTimeout}, obs.closed())
}

func TestSubscription_Cancel(t *testing.T) {
	pub := newPublisher(testutil.NewScriptedPlanner(testutil.Reply{Block: true}))
	sess := newSession()

	sub := pub.Open(context.Background(), sess, "hi")
	first := <-sub.Frames
	assert.Equal(t, Progress(DefaultThinkingStart), first)

	sub.Cancel()
	rest := drain(sub)
	assert.Empty(t, rest)
	assert.Eventually(t, func() bool { return sess.State() == core.StateIdle }, time.Second, 5*time.Millisecond)
}

func TestOpen_TimeoutWithPlannerIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	stuck := core.PlannerFunc(func(_ context.Context, _ core.PlanRequest) (core.PlanResult, error) {
		<-release
		return core.PlanResult{}, fmt.Errorf("released")
	})
	obs := &recordingObserver{}
	pub := newPublisher(stuck, func(o *Options) {
		o.Timeout = 50 * time.Millisecond
		o.Observer = obs
	})
	sess := newSession()

	start := time.Now()
	frames := drain(pub.Open(context.Background(), sess, "slow question"))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []Frame{Progress(DefaultThinkingStart), Error(core.ErrStreamTimeout.Error())}, frames)
	assert.Eventually(t, func() bool { return len(obs.closed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []CloseReason{ReasonTimeout}, obs.closed())
	assert.Zero(t, pub.Active())

	close(release)
	assert.Eventually(t, func() bool { return sess.State() == core.StateIdle }, time.Second, 5*time.Millisecond)
}

func TestPublisher_CancelByID(t *testing.T) {
	pub := newPublisher(testutil.NewScriptedPlanner(testutil.Reply{Block: true}))

	sub := pub.Open(context.Background(), newSession(), "hi")
	<-sub.Frames
	assert.Equal(t, 1, pub.Active())

	require.NoError(t, pub.Cancel(sub.ID))
	drain(sub)
	assert.Eventually(t, func() bool { return pub.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Error(t, pub.Cancel(sub.ID))
}

func TestOpen_Pacing(t *testing.T) {
	pub := newPublisher(testutil.NewScriptedPlanner(testutil.AnswerReply("abcdefghijkl")), func(o *Options) {
		o.Interval = 20 * time.Millisecond
	})

	start := time.Now()
	tr := Collect(pub.Open(context.Background(), newSession(), "hi").Frames)
	assert.Equal(t, "abcdefghijkl", tr.Text)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestFrame_EncodeDecode(t *testing.T) {
	tests := []struct {
		frame Frame
		wire  string
	}{
		{Progress("Step 1: using Web search"), "[PROGRESS]Step 1: using Web search"},
		{Chunk("Hell"), "Hell"},
		{Done(), "[DONE]"},
		{Error("stream timed out"), "[ERROR]stream timed out"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wire, tt.frame.Encode())
		assert.Equal(t, tt.frame, Decode(tt.wire))
	}
	assert.Equal(t, "chunk", KindChunk.String())
}

func TestCollect(t *testing.T) {
	ch := make(chan Frame, 5)
	ch <- Progress("a")
	ch <- Chunk("He")
	ch <- Chunk("llo")
	ch <- Error("x")
	ch <- Done()
	close(ch)

	tr := Collect(ch)
	assert.Equal(t, []string{"a"}, tr.Progress)
	assert.Equal(t, "Hello", tr.Text)
	assert.Equal(t, "x", tr.Err)
	assert.True(t, tr.Done)
	assert.False(t, strings.Contains(tr.Text, "[DONE]"))
}
