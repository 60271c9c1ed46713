package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/tool"
)

const tracerName = "github.com/hupe1980/campusagent/agent"

// Progress describes a tool step for subscribers.
type Progress struct {
	Step  int
	Tools []string
	// Label is the human readable line, e.g. "Step 2: using Campus knowledge search".
	Label string
}

// ProgressFunc is called synchronously before the tools of a step run.
type ProgressFunc func(Progress)

// LoopOptions configures a Loop.
type LoopOptions struct {
	Logger   logging.Logger
	Observer Observer
	// Executor runs tool calls. Defaults to NewExecutor sharing Logger and Observer.
	Executor *Executor
	// DisplayNames renders tool names in progress labels.
	DisplayNames tool.DisplayNames
}

// Loop drives turns against a planner. A Loop holds no per-session state and
// may serve many sessions concurrently.
type Loop struct {
	planner core.Planner
	opts    LoopOptions
	tracer  trace.Tracer
}

// NewLoop creates a Loop.
func NewLoop(planner core.Planner, optFns ...func(o *LoopOptions)) *Loop {
	opts := LoopOptions{
		Logger:       logging.NoOpLogger{},
		Observer:     NoOpObserver{},
		DisplayNames: tool.DefaultDisplayNames,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Executor == nil {
		opts.Executor = NewExecutor(func(o *ExecutorOptions) {
			o.Logger = opts.Logger
			o.Observer = opts.Observer
		})
	}
	return &Loop{planner: planner, opts: opts, tracer: otel.Tracer(tracerName)}
}

// RunTurn processes one user input on sess.
//
// Precondition failures (session not Idle, blank input) are returned as
// errors and leave the session untouched. Every other failure is recorded in
// the outcome: State is Error and Err holds the cause. On return the session
// is Idle with a zero step counter.
func (l *Loop) RunTurn(ctx context.Context, sess *core.Session, input string, onProgress ProgressFunc) (outcome *core.TurnOutcome, err error) {
	if st := sess.State(); st != core.StateIdle {
		return nil, fmt.Errorf("%w: session %q is %s", core.ErrInvalidState, sess.ID, st)
	}
	if strings.TrimSpace(input) == "" {
		return nil, core.ErrEmptyInput
	}
	if err := sess.Begin(); err != nil {
		return nil, err
	}

	start := time.Now()
	outcome = &core.TurnOutcome{SessionID: sess.ID, Input: input, State: core.StateRunning, HistoryStart: sess.Len()}
	sess.Append(core.UserMessage(input))

	ctx, span := l.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("step.budget", sess.StepBudget()),
	))
	l.opts.Observer.TurnStarted(sess.ID)
	l.opts.Logger.Debug("agent.turn.start", "session_id", sess.ID, "budget", sess.StepBudget())

	defer func() {
		if r := recover(); r != nil {
			l.opts.Logger.Error("agent.turn.panic", "session_id", sess.ID, "recover", r)
			l.fail(sess, outcome, fmt.Errorf("agent panic: %v", r))
		}
		outcome.Steps = sess.StepCount()
		outcome.Duration = time.Since(start)
		sess.Reset()

		span.SetAttributes(
			attribute.String("turn.state", outcome.State.String()),
			attribute.Int("turn.steps", outcome.Steps),
			attribute.Bool("turn.step_limit", outcome.StepLimitReached),
		)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, outcome.Err.Error())
		}
		span.End()

		logging.LogTurn(l.opts.Logger, sess.ID, outcome.Steps, outcome.State.String(), outcome.Duration, outcome.Err)
		l.opts.Observer.TurnCompleted(outcome)
	}()

	l.run(ctx, sess, outcome, onProgress)
	return outcome, nil
}

func (l *Loop) run(ctx context.Context, sess *core.Session, outcome *core.TurnOutcome, onProgress ProgressFunc) {
	var specs []core.ToolSpec
	if sess.Tools != nil {
		specs = sess.Tools.Specs()
	}

	for {
		if err := ctx.Err(); err != nil {
			l.fail(sess, outcome, err)
			return
		}

		step, ok := sess.NextStep()
		if !ok {
			l.opts.Logger.Warn("agent.turn.step_limit", "session_id", sess.ID, "budget", sess.StepBudget())
			outcome.StepLimitReached = true
			l.finish(sess, outcome)
			return
		}

		if done := l.step(ctx, sess, outcome, step, specs, onProgress); done {
			return
		}
	}
}

// step runs one think (and possibly act) iteration and reports whether the turn ended.
func (l *Loop) step(ctx context.Context, sess *core.Session, outcome *core.TurnOutcome, step int, specs []core.ToolSpec, onProgress ProgressFunc) bool {
	ctx, span := l.tracer.Start(ctx, "agent.step", trace.WithAttributes(attribute.Int("step", step)))
	defer span.End()

	planStart := time.Now()
	plan, err := l.planner.Plan(ctx, core.PlanRequest{
		History:        sess.History(),
		SystemPrompt:   sess.SystemPrompt,
		NextStepPrompt: sess.NextStepPrompt,
		Tools:          specs,
	})
	latency := time.Since(planStart)
	if err != nil {
		if ctx.Err() == nil {
			sess.Append(core.AssistantMessage("An error occurred while planning: " + err.Error()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.fail(sess, outcome, err)
		return true
	}

	if plan.Kind == core.PlanAnswer {
		sess.Append(core.AssistantMessage(plan.Text))
		l.record(sess, outcome, core.StepTrace{Step: step, Kind: core.StepThink, Summary: clip(plan.Text, 120)}, latency)
		l.finish(sess, outcome)
		return true
	}

	names := make([]string, len(plan.ToolCalls))
	for i, c := range plan.ToolCalls {
		names[i] = c.Name
	}
	if plan.Reasoning != "" {
		l.opts.Logger.Debug("agent.step.reasoning", "session_id", sess.ID, "step", step, "text", plan.Reasoning)
	}
	if onProgress != nil {
		onProgress(Progress{Step: step, Tools: names, Label: fmt.Sprintf("Step %d: using %s", step, l.opts.DisplayNames.Join(names))})
	}

	sess.Append(core.AssistantMessage(plan.Reasoning, plan.ToolCalls...))
	results, terminated := l.opts.Executor.Execute(ctx, sess.Tools, plan.ToolCalls)
	sess.Append(results...)

	summaries := make([]string, len(results))
	for i, r := range results {
		summaries[i] = r.ToolResult.Name + ": " + clip(r.ToolResult.Payload, 60)
	}
	l.record(sess, outcome, core.StepTrace{Step: step, Kind: core.StepThinkAct, Tools: names, Summary: strings.Join(summaries, "; ")}, latency)

	if terminated {
		outcome.Terminated = true
		l.finish(sess, outcome)
		return true
	}
	return false
}

func (l *Loop) record(sess *core.Session, outcome *core.TurnOutcome, st core.StepTrace, latency time.Duration) {
	outcome.Trace = append(outcome.Trace, st)
	l.opts.Observer.StepCompleted(sess.ID, st, latency)
}

func (l *Loop) finish(sess *core.Session, outcome *core.TurnOutcome) {
	if err := sess.Transition(core.StateFinished); err != nil {
		l.opts.Logger.Warn("agent.turn.transition_failed", "session_id", sess.ID, "error", err.Error())
	}
	outcome.State = core.StateFinished
}

func (l *Loop) fail(sess *core.Session, outcome *core.TurnOutcome, err error) {
	if tErr := sess.Transition(core.StateError); tErr != nil {
		l.opts.Logger.Warn("agent.turn.transition_failed", "session_id", sess.ID, "error", tErr.Error())
	}
	outcome.State = core.StateError
	outcome.Err = err
}

// clip shortens s to n runes on a single line.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
