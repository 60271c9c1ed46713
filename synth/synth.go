package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/tool"
)

// ThinkingSentinel marks internal status text that is never a final answer.
const ThinkingSentinel = "[THINKING_END]"

// DefaultFailureMessage is returned when nothing else produced text.
const DefaultFailureMessage = "Sorry, I tried several approaches but could not reach a complete conclusion. " +
	"Please rephrase the question or provide extra details."

// DefaultFallbackSystemPrompt instructs the planner on the fallback completion.
const DefaultFallbackSystemPrompt = "You are finalising a multi-step campus assistant session. " +
	"Use only the provided findings and be honest about any remaining gaps."

const (
	defaultSummaryEntries = 3
	defaultEntryRunes     = 220
)

// Options configures a Synthesizer.
type Options struct {
	Logger logging.Logger
	// Normalizer cleans the chosen text. Defaults to NewNormalizer(nil).
	Normalizer *Normalizer
	// Fallback is asked once for a final answer when the step budget ran out.
	// Nil disables the fallback completion.
	Fallback             core.Planner
	FallbackSystemPrompt string
	FailureMessage       string
	// SummaryEntries caps the tool results quoted in the extractive summary.
	SummaryEntries int
	// EntryRunes caps the length of each summary entry.
	EntryRunes int
}

// Synthesizer chooses and cleans the final text of a turn.
type Synthesizer struct {
	opts Options
}

// New creates a Synthesizer.
func New(optFns ...func(o *Options)) *Synthesizer {
	opts := Options{
		Logger:               logging.NoOpLogger{},
		FallbackSystemPrompt: DefaultFallbackSystemPrompt,
		FailureMessage:       DefaultFailureMessage,
		SummaryEntries:       defaultSummaryEntries,
		EntryRunes:           defaultEntryRunes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Normalizer == nil {
		opts.Normalizer = NewNormalizer(nil)
	}
	return &Synthesizer{opts: opts}
}

// Normalize applies the configured normalizer.
func (s *Synthesizer) Normalize(text string) string {
	return s.opts.Normalizer.Normalize(text)
}

// Finalize returns the normalized final text for a finished turn. The first
// non-blank candidate wins:
//
//  1. the last assistant answer of the turn
//  2. the last tool result of the turn, unless the step budget ran out
//  3. after step budget exhaustion, a fallback completion over an extractive
//     summary of recent tool results, or the summary itself
//  4. the failure message
func (s *Synthesizer) Finalize(ctx context.Context, sess *core.Session, outcome *core.TurnOutcome) string {
	turn := currentTurn(sess.History(), outcome)

	if text := s.Normalize(lastAnswer(turn)); text != "" {
		s.opts.Logger.Debug("synth.finalize", "session_id", sess.ID, "source", "answer")
		return text
	}

	stepLimit := outcome != nil && outcome.StepLimitReached
	if !stepLimit {
		if text := s.Normalize(lastToolResult(turn)); text != "" {
			s.opts.Logger.Debug("synth.finalize", "session_id", sess.ID, "source", "tool_result")
			return text
		}
	} else {
		summary := s.Summarize(turn, outcome.Steps)
		if text := s.Normalize(s.fallback(ctx, outcome.Input, summary)); text != "" {
			s.opts.Logger.Debug("synth.finalize", "session_id", sess.ID, "source", "fallback")
			return text
		}
		if text := s.Normalize(summary); text != "" {
			s.opts.Logger.Debug("synth.finalize", "session_id", sess.ID, "source", "summary")
			return text
		}
	}

	s.opts.Logger.Debug("synth.finalize", "session_id", sess.ID, "source", "failure_message")
	return s.Normalize(s.opts.FailureMessage)
}

// Summarize builds an extractive summary of the most recent successful tool
// results in msgs, newest first. It returns "" when there is nothing to quote.
func (s *Synthesizer) Summarize(msgs []core.Message, steps int) string {
	var entries []string
	for i := len(msgs) - 1; i >= 0 && len(entries) < s.opts.SummaryEntries; i-- {
		res := msgs[i].ToolResult
		if res == nil || res.IsError {
			continue
		}
		if entry := s.extract(res.Payload); entry != "" {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "After %d rounds of reasoning and tool calls, here is what I found:\n\n", steps)
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("\nIf you need more detail, please share a more specific follow-up question.")
	return b.String()
}

func (s *Synthesizer) extract(payload string) string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ""
	}
	candidate := payload
	if parsed := parseKnowledge(payload); parsed != "" {
		candidate = parsed
	}
	if utf8.RuneCountInString(candidate) > s.opts.EntryRunes {
		candidate = string([]rune(candidate)[:s.opts.EntryRunes]) + "…"
	}
	return s.Normalize(candidate)
}

// parseKnowledge reads a JSON payload shaped like tool.KnowledgeResult and
// returns its summary, or the first two sources as "title: snippet".
func parseKnowledge(payload string) string {
	if !strings.HasPrefix(payload, "{") {
		return ""
	}
	var kr tool.KnowledgeResult
	if err := json.Unmarshal([]byte(payload), &kr); err != nil {
		return ""
	}
	if strings.TrimSpace(kr.Summary) != "" {
		return kr.Summary
	}

	lines := make([]string, 0, 2)
	for _, src := range kr.Sources {
		if len(lines) == 2 {
			break
		}
		title := src.Title
		if title == "" {
			title = "Related material"
		}
		if src.Snippet != "" {
			title += ": " + src.Snippet
		}
		lines = append(lines, title)
	}
	return strings.Join(lines, "\n")
}

func (s *Synthesizer) fallback(ctx context.Context, question, summary string) string {
	if s.opts.Fallback == nil {
		return ""
	}
	question = strings.TrimSpace(question)
	summary = strings.TrimSpace(summary)
	if question == "" && summary == "" {
		return ""
	}

	var b strings.Builder
	if question != "" {
		b.WriteString("User question:\n" + question + "\n\n")
	}
	if summary != "" {
		b.WriteString("Known findings:\n" + summary + "\n\n")
	} else {
		b.WriteString("Known findings: None captured during tool calls.\n\n")
	}
	b.WriteString("Respond with a concise, structured answer. If information is missing, acknowledge the gap and suggest the next step.")

	res, err := s.opts.Fallback.Plan(ctx, core.PlanRequest{
		History:      []core.Message{core.UserMessage(b.String())},
		SystemPrompt: s.opts.FallbackSystemPrompt,
	})
	if err != nil {
		s.opts.Logger.Warn("synth.fallback.failed", "error", err.Error())
		return ""
	}
	if res.Kind != core.PlanAnswer {
		s.opts.Logger.Warn("synth.fallback.unexpected_tool_calls", "count", len(res.ToolCalls))
		return ""
	}
	return res.Text
}

// currentTurn returns the messages appended since the turn started.
func currentTurn(history []core.Message, outcome *core.TurnOutcome) []core.Message {
	if outcome == nil || outcome.HistoryStart <= 0 {
		return history
	}
	if outcome.HistoryStart >= len(history) {
		return nil
	}
	return history[outcome.HistoryStart:]
}

// lastAnswer returns the last assistant text that is not attached to tool
// calls and is not an internal marker.
func lastAnswer(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != core.RoleAssistant || len(m.ToolCalls) > 0 {
			continue
		}
		if strings.TrimSpace(m.Text) != "" && !strings.Contains(m.Text, ThinkingSentinel) {
			return m.Text
		}
	}
	return ""
}

func lastToolResult(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if res := msgs[i].ToolResult; res != nil && strings.TrimSpace(res.Payload) != "" {
			return res.Payload
		}
	}
	return ""
}
