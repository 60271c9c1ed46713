// Package planner turns a conversation into the next action by asking a
// language model. ModelPlanner implements core.Planner on top of model.Model.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/internal/util"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/model"
)

const tracerName = "github.com/hupe1980/campusagent/planner"

// Options configures a ModelPlanner.
type Options struct {
	Logger logging.Logger
	// Retriever, when set, augments the system prompt with passages matching
	// the latest user message.
	Retriever core.Retriever
	// RetrievalTopK bounds the augmentation passages. Defaults to 3.
	RetrievalTopK int
	// RetrievalFilter restricts augmentation searches.
	RetrievalFilter core.Filter
	// PromptVars are exposed to system prompt templates next to .Tools.
	PromptVars map[string]any
	// Stream requests streamed generation from the model. The planner still
	// returns only the final response.
	Stream bool
}

// ModelPlanner implements core.Planner with a single model call per step.
// It never retries; failures surface as ErrModelUnavailable or ErrMalformedPlan.
type ModelPlanner struct {
	model  model.Model
	opts   Options
	tracer trace.Tracer
}

// New creates a ModelPlanner around m.
func New(m model.Model, optFns ...func(o *Options)) *ModelPlanner {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		RetrievalTopK: 3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelPlanner{model: m, opts: opts, tracer: otel.Tracer(tracerName)}
}

// Plan implements core.Planner.
func (p *ModelPlanner) Plan(ctx context.Context, req core.PlanRequest) (core.PlanResult, error) {
	info := p.model.Info()
	ctx, span := p.tracer.Start(ctx, "planner.plan", trace.WithAttributes(
		attribute.String("model.name", info.Name),
		attribute.String("model.provider", info.Provider),
		attribute.Int("history.length", len(req.History)),
		attribute.Int("tools.count", len(req.Tools)),
	))
	defer span.End()

	start := time.Now()
	res, err := p.plan(ctx, req)
	logging.LogPlannerCall(p.opts.Logger, info.Name, res.Kind.String(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.PlanResult{}, err
	}
	span.SetAttributes(attribute.String("plan.kind", res.Kind.String()), attribute.Int("plan.tool_calls", len(res.ToolCalls)))
	return res, nil
}

func (p *ModelPlanner) plan(ctx context.Context, req core.PlanRequest) (core.PlanResult, error) {
	messages := req.History
	if strings.TrimSpace(req.NextStepPrompt) != "" {
		messages = append(messages[:len(messages):len(messages)], core.UserMessage(req.NextStepPrompt))
	}
	mreq := model.Request{
		Instructions: p.instructions(ctx, req),
		Messages:     messages,
		Tools:        model.DefinitionsFromSpecs(req.Tools),
		Stream:       p.opts.Stream,
	}

	resp, err := p.generate(ctx, mreq)
	if err != nil {
		return core.PlanResult{}, err
	}
	return toPlan(resp)
}

// generate drains the model channels and returns the final response.
func (p *ModelPlanner) generate(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}
	respCh, errCh := p.model.Generate(ctx, req)

	var (
		final model.Response
		got   bool
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, got = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return model.Response{}, ctxErr
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return model.Response{}, err
				}
				return model.Response{}, fmt.Errorf("%w: %v", core.ErrModelUnavailable, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}
	if !got {
		return model.Response{}, fmt.Errorf("%w: model returned no final response", core.ErrModelUnavailable)
	}
	return final, nil
}

func toPlan(resp model.Response) (core.PlanResult, error) {
	if len(resp.ToolCalls) == 0 {
		return core.Answer(resp.Text), nil
	}

	calls := make([]core.ToolCall, 0, len(resp.ToolCalls))
	for i, c := range resp.ToolCalls {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return core.PlanResult{}, fmt.Errorf("%w: tool call %d has no name", core.ErrMalformedPlan, i)
		}
		args, err := normalizeArgs(c.Arguments)
		if err != nil {
			return core.PlanResult{}, fmt.Errorf("%w: tool call %q: %v", core.ErrMalformedPlan, name, err)
		}
		id := c.ID
		if id == "" {
			id = core.NewID()
		}
		calls = append(calls, core.ToolCall{ID: id, Name: name, Arguments: args})
	}
	return core.Calls(resp.Text, calls...), nil
}

func normalizeArgs(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "{}", nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return raw, nil
}

// instructions renders the system prompt and appends retrieved reference material.
func (p *ModelPlanner) instructions(ctx context.Context, req core.PlanRequest) string {
	vars := make(map[string]any, len(p.opts.PromptVars)+1)
	for k, v := range p.opts.PromptVars {
		vars[k] = v
	}
	names := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		names[i] = t.Name
	}
	vars["Tools"] = names

	prompt, err := util.RenderTemplate(req.SystemPrompt, vars)
	if err != nil {
		p.opts.Logger.Warn("planner.prompt.render_failed", "error", err.Error())
		prompt = req.SystemPrompt
	}

	if p.opts.Retriever == nil {
		return prompt
	}
	query := lastUserText(req.History)
	if query == "" {
		return prompt
	}
	snippets, err := p.opts.Retriever.Search(ctx, query, p.opts.RetrievalFilter, p.opts.RetrievalTopK)
	if err != nil {
		p.opts.Logger.Warn("planner.retrieval.failed", "error", err.Error())
		return prompt
	}
	if len(snippets) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	if prompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Reference material:")
	for i, s := range snippets {
		title := s.Title
		if title == "" {
			title = s.SourceID
		}
		fmt.Fprintf(&b, "\n[%d] %s: %s", i+1, title, strings.Join(strings.Fields(s.Text), " "))
	}
	return b.String()
}

func lastUserText(history []core.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser && strings.TrimSpace(history[i].Text) != "" {
			return history[i].Text
		}
	}
	return ""
}
