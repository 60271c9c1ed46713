package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/campusagent/agent"
	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/internal/testutil"
	"github.com/hupe1980/campusagent/tool"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"blank", " \n\t ", ""},
		{"bold and code", "**Hello** `world`\n```\nfmt.Println()\n```", "Hello world\n\nfmt.Println()"},
		{"headings and quotes", "# Title\n## Sub title\n> quoted\n>> nested", "Title\nSub title\nquoted\nnested"},
		{"bullets", "Options:\n* one\n*   two\n• three\n1.first", "Options:\n- one\n- two\n- three\n1. first"},
		{"inline numbered", "Steps: 1. Apply 2. Wait", "Steps:\n1. Apply\n2. Wait"},
		{"dashes", "text – more", "text\n- more"},
		{"decimals untouched", "3.5 GB of storage", "3.5 GB of storage"},
		{"url isolation", "See https://www.hku.hk/admissions for details", "See\nhttps://www.hku.hk/admissions\nfor details"},
		{"url already alone", "Link:\nhttps://example.com/a?b=1\nDone", "Link:\nhttps://example.com/a?b=1\nDone"},
		{"crlf and blank lines", "a\r\n\r\n\r\n\r\nb", "a\n\nb"},
		{"spaces", "a \t b   c  \n   d", "a b c\nd"},
		{"heading break", "Here you go. Sources: handbook", "Here you go.\n\nSources: handbook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalize_CustomHeadings(t *testing.T) {
	n := NewNormalizer([]string{"Opening hours:"})

	assert.Equal(t, "Main library.\n\nOpening hours: 8am", n.Normalize("Main library. Opening hours: 8am"))
	assert.Equal(t, "Read it. Sources: x", n.Normalize("Read it. Sources: x"))
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(nil)

	inputs := []string{
		"Hello world",
		"**Bold** and __under__ with `code`",
		"# > ## mixed prefixes",
		"> # quote then heading",
		"a - b - c - d",
		"list: 1.one 2.two 10. ten",
		"http://a.com - next https://b.org/x-y",
		"visit http://a.com > quote",
		"Answer: yes. Key points: - a - b Sources: https://x.y/z",
		"\t\tindented\r\n\r\n\r\n   \r\nlines  with   spaces ",
		"— dashes – everywhere —",
		"12. twelve\n13.thirteen",
		"中文 **粗体** - 列表 1. 项目",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		assert.Equal(t, once, n.Normalize(once), "input %q", in)
	}
}

func TestNewPipeline(t *testing.T) {
	n := NewPipeline(strings.ToUpper, strings.TrimSpace)
	assert.Equal(t, "ABC", n.Normalize("  abc "))
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("", 4))
	assert.Equal(t, []string{"Hell", "o wo", "rld"}, Chunk("Hello world", 4))
	assert.Equal(t, []string{"héll", "o wö", "rld"}, Chunk("héllo wörld", 4))
	assert.Equal(t, []string{"abc"}, Chunk("abc", 0))
	assert.Equal(t, []string{"a", "b"}, Chunk("ab", 1))
}

func TestChunk_RoundTrip(t *testing.T) {
	n := NewNormalizer(nil)
	for _, in := range []string{"Hello world", "1. one\n2. two", "日本語のテキストです", "x"} {
		text := n.Normalize(in)
		for _, size := range []int{1, 3, 4, 7} {
			assert.Equal(t, text, strings.Join(Chunk(text, size), ""))
		}
	}
}

func echoOK() tool.Tool {
	return tool.NewFunctionTool("lookup", "Lookup", nil, func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	})
}

func runTurn(t *testing.T, sess *core.Session, input string, replies ...testutil.Reply) *core.TurnOutcome {
	t.Helper()
	p := testutil.NewScriptedPlanner(replies...)
	p.Repeat = true
	out, err := agent.NewLoop(p).RunTurn(context.Background(), sess, input, nil)
	require.NoError(t, err)
	return out
}

func toolSession(budget int) *core.Session {
	return testutil.NewSessionBuilder("s").
		Budget(budget).
		Tools(tool.MustRegistry(echoOK(), tool.Terminate())).
		Build()
}

func TestFinalize_Answer(t *testing.T) {
	sess := toolSession(10)
	out := runTurn(t, sess, "hi", testutil.AnswerReply("Hello world"))

	text := New().Finalize(context.Background(), sess, out)
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, text, strings.Join(Chunk(text, DefaultChunkSize), ""))
}

func TestFinalize_SkipsSentinelAndReasoning(t *testing.T) {
	call := core.ToolCall{ID: "1", Name: "lookup"}
	sess := testutil.NewSessionBuilder("s").History(
		core.UserMessage("q"),
		core.AssistantMessage("let me check", call),
		core.ToolResultMessage(core.ToolResult{CallID: "1", Name: "lookup", Payload: "**Library** opens at 8am"}),
		core.AssistantMessage(ThinkingSentinel+"Thought process complete"),
	).Build()

	text := New().Finalize(context.Background(), sess, &core.TurnOutcome{State: core.StateFinished})
	assert.Equal(t, "Library opens at 8am", text)
}

func TestFinalize_TerminateUsesToolResult(t *testing.T) {
	sess := toolSession(10)
	out := runTurn(t, sess, "bye", testutil.CallReply("c1", tool.TerminateName, "{}"))

	assert.Equal(t, tool.TerminateResult, New().Finalize(context.Background(), sess, out))
}

func TestFinalize_StepLimitUsesSummary(t *testing.T) {
	sess := toolSession(3)
	out := runTurn(t, sess, "keep going", testutil.CallReply("c", "lookup", "{}"))
	require.True(t, out.StepLimitReached)
	require.Equal(t, 3, out.Steps)

	want := "After 3 rounds of reasoning and tool calls, here is what I found:\n\n" +
		"- ok\n- ok\n- ok\n\n" +
		"If you need more detail, please share a more specific follow-up question."
	assert.Equal(t, want, New().Finalize(context.Background(), sess, out))
}

func TestFinalize_StepLimitFallbackCompletion(t *testing.T) {
	sess := toolSession(2)
	out := runTurn(t, sess, "keep going", testutil.CallReply("c", "lookup", "{}"))

	fb := testutil.NewScriptedPlanner(testutil.AnswerReply("Based on the findings, **ok**."))
	s := New(func(o *Options) { o.Fallback = fb })

	assert.Equal(t, "Based on the findings, ok.", s.Finalize(context.Background(), sess, out))

	reqs := fb.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
	assert.Equal(t, DefaultFallbackSystemPrompt, reqs[0].SystemPrompt)
	require.Len(t, reqs[0].History, 1)
	assert.Contains(t, reqs[0].History[0].Text, "User question:\nkeep going")
	assert.Contains(t, reqs[0].History[0].Text, "Known findings:\nAfter 2 rounds")
}

func TestFinalize_StepLimitFallbackFailure(t *testing.T) {
	sess := toolSession(1)
	out := runTurn(t, sess, "q", testutil.CallReply("c", "lookup", "{}"))

	fb := testutil.NewScriptedPlanner(testutil.ErrReply(errors.New("offline")))
	text := New(func(o *Options) { o.Fallback = fb }).Finalize(context.Background(), sess, out)
	assert.True(t, strings.HasPrefix(text, "After 1 rounds"))
	assert.Contains(t, text, "- ok")
}

func TestFinalize_FailureMessage(t *testing.T) {
	call := core.ToolCall{ID: "1", Name: "lookup"}
	sess := testutil.NewSessionBuilder("s").History(
		core.UserMessage("q1"),
		core.AssistantMessage("", call),
		core.ToolResultMessage(core.ToolResult{CallID: "1", Name: "lookup", Payload: "previous turn"}),
		core.UserMessage("q2"),
		core.AssistantMessage(""),
	).Build()
	outcome := &core.TurnOutcome{State: core.StateFinished, HistoryStart: 3}

	assert.Equal(t, DefaultFailureMessage, New().Finalize(context.Background(), sess, outcome))

	custom := New(func(o *Options) { o.FailureMessage = "No answer." })
	assert.Equal(t, "No answer.", custom.Finalize(context.Background(), sess, outcome))
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("a", 300)
	msgs := []core.Message{
		core.ToolResultMessage(core.ToolResult{Name: "x", Payload: "oldest"}),
		core.ToolResultMessage(core.ToolResult{Name: "x", Payload: long}),
		core.ToolResultMessage(core.ToolResult{Name: "x", Payload: "Error: boom", IsError: true}),
		core.ToolResultMessage(core.ToolResult{Name: "x", Payload: `{"summary":"Library opens at 8am"}`}),
		core.ToolResultMessage(core.ToolResult{Name: "x", Payload: "newest"}),
	}

	s := New()
	got := s.Summarize(msgs, 4)
	assert.Contains(t, got, "- newest\n- Library opens at 8am\n- "+strings.Repeat("a", 220)+"…\n")
	assert.NotContains(t, got, "oldest")
	assert.NotContains(t, got, "boom")

	assert.Empty(t, s.Summarize(nil, 0))
}

func TestParseKnowledge(t *testing.T) {
	payload := `{"summary":"","sources":[` +
		`{"title":"Handbook","snippet":"Opens 8am","rank":1},` +
		`{"title":"","snippet":"Closed on holidays","rank":2},` +
		`{"title":"Ignored","rank":3}]}`
	assert.Equal(t, "Handbook: Opens 8am\nRelated material: Closed on holidays", parseKnowledge(payload))
	assert.Equal(t, "", parseKnowledge("plain text"))
	assert.Equal(t, "", parseKnowledge("{broken"))
}
