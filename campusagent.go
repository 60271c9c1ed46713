// Package campusagent wires the conversational agent runtime together: a
// session store, the turn loop with its planner and tools, the response
// synthesizer and the stream publisher.
//
// Most applications build a Runtime from a config.Config and then either
// stream turns with Open or wait for the folded result with Ask:
//
//	cfg, _ := config.Load("campusagent.yaml")
//	rt, err := campusagent.New(*cfg)
//	...
//	sub := rt.Open(ctx, "chat-1", "When does the main library open?")
//	for f := range sub.Frames {
//		fmt.Println(f.Encode())
//	}
package campusagent

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/hupe1980/campusagent/agent"
	"github.com/hupe1980/campusagent/config"
	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/metrics"
	"github.com/hupe1980/campusagent/model"
	"github.com/hupe1980/campusagent/model/anthropic"
	"github.com/hupe1980/campusagent/model/openai"
	"github.com/hupe1980/campusagent/planner"
	"github.com/hupe1980/campusagent/retrieval"
	"github.com/hupe1980/campusagent/retrieval/weaviate"
	"github.com/hupe1980/campusagent/session"
	"github.com/hupe1980/campusagent/stream"
	"github.com/hupe1980/campusagent/synth"
	"github.com/hupe1980/campusagent/tool"
)

// Options overrides components that New would otherwise build from the config.
type Options struct {
	// Planner replaces the model backed planner. It also serves the fallback
	// completion unless the config disables it.
	Planner core.Planner
	// Model replaces the provider selected in the config.
	Model model.Model
	// Retriever replaces the knowledge backend selected in the config.
	Retriever core.Retriever
	// Tools are registered next to the built-in tools.
	Tools   []tool.Tool
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Runtime is the assembled agent. It is safe for concurrent use; turns on
// different sessions run in parallel while a session serves one turn at a time.
type Runtime struct {
	cfg       config.Config
	logger    logging.Logger
	store     *session.InMemoryStore
	tools     *tool.Registry
	loop      *agent.Loop
	synth     *synth.Synthesizer
	publisher *stream.Publisher
	metrics   *metrics.Metrics
	janitor   *session.Janitor
}

// New builds a Runtime from cfg.
func New(cfg config.Config, optFns ...func(o *Options)) (*Runtime, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(&logging.Config{
			Level:     logging.ParseLevel(cfg.Logging.Level),
			Format:    cfg.Logging.Format,
			Component: "campusagent",
		})
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	retriever := opts.Retriever
	if retriever == nil {
		r, err := NewRetriever(cfg.Knowledge, opts.Logger)
		if err != nil {
			return nil, err
		}
		retriever = r
	}

	tools := append([]tool.Tool(nil), opts.Tools...)
	if retriever != nil {
		tools = append(tools, tool.KnowledgeSearch(retriever))
	}
	tools = append(tools, tool.Terminate())
	registry, err := tool.NewRegistry(tools, func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	if err != nil {
		return nil, fmt.Errorf("invalid tool table: %w", err)
	}

	p := opts.Planner
	if p == nil {
		m := opts.Model
		if m == nil {
			m, err = NewModel(cfg.Model)
			if err != nil {
				return nil, err
			}
		}
		p = planner.New(m, func(o *planner.Options) {
			o.Logger = opts.Logger
			o.Stream = cfg.Model.Stream
			if cfg.Knowledge.PlannerTopK > 0 {
				o.Retriever = retriever
				o.RetrievalTopK = cfg.Knowledge.PlannerTopK
			}
		})
	}

	rt := &Runtime{cfg: cfg, logger: opts.Logger, tools: registry, metrics: opts.Metrics}

	rt.store = session.NewInMemoryStore(func(o *session.Options) {
		o.TTL = cfg.Session.TTL
		o.MaxSessions = cfg.Session.MaxSessions
		o.Logger = opts.Logger
		o.Factory = rt.newSession
	})
	rt.metrics.SessionGauge(rt.store.Len)

	rt.janitor, err = session.NewJanitor(rt.store, func(o *session.JanitorOptions) {
		o.Schedule = cfg.Session.JanitorSchedule
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	executor := agent.NewExecutor(func(o *agent.ExecutorOptions) {
		o.ToolTimeout = cfg.Agent.ToolTimeout
		o.Logger = opts.Logger
		o.Observer = rt.metrics
	})
	rt.loop = agent.NewLoop(p, func(o *agent.LoopOptions) {
		o.Logger = opts.Logger
		o.Observer = rt.metrics
		o.Executor = executor
		o.DisplayNames = tool.DefaultDisplayNames.Merge(cfg.Agent.DisplayNames)
	})

	rt.synth = synth.New(func(o *synth.Options) {
		o.Logger = opts.Logger
		o.Normalizer = synth.NewNormalizer(cfg.Agent.Headings)
		if !cfg.Agent.DisableFallback {
			o.Fallback = p
		}
	})

	rt.publisher = stream.New(rt.loop, rt.synth, func(o *stream.Options) {
		o.ChunkSize = cfg.Stream.ChunkSize
		o.Interval = cfg.Stream.Interval
		o.Timeout = cfg.Stream.Timeout
		o.Logger = opts.Logger
		o.Observer = rt.metrics
	})

	return rt, nil
}

func (rt *Runtime) newSession(id string) *core.Session {
	return core.NewSession(id, func(o *core.SessionOptions) {
		o.StepBudget = rt.cfg.Agent.StepBudget
		o.SystemPrompt = rt.cfg.Agent.SystemPrompt
		o.NextStepPrompt = rt.cfg.Agent.NextStepPrompt
		o.Tools = rt.tools
	})
}

// Open streams a turn of the conversation chatID. A blank chatID selects
// session.DefaultID. Precondition failures such as a busy session or blank
// input arrive as an error frame followed by a done frame.
func (rt *Runtime) Open(ctx context.Context, chatID, message string) *stream.Subscription {
	return rt.publisher.Open(ctx, rt.store.GetOrCreate(chatID), message)
}

// Ask runs a turn and waits for its folded frames.
func (rt *Runtime) Ask(ctx context.Context, chatID, message string) stream.Transcript {
	return stream.Collect(rt.Open(ctx, chatID, message).Frames)
}

// Clear drops the conversation chatID. It reports whether a session existed.
func (rt *Runtime) Clear(chatID string) bool {
	return rt.store.Delete(chatID)
}

// Cancel stops the stream with the given subscription id.
func (rt *Runtime) Cancel(streamID string) error {
	return rt.publisher.Cancel(streamID)
}

// Sessions returns the session store.
func (rt *Runtime) Sessions() *session.InMemoryStore { return rt.store }

// Janitor returns the session janitor. It is not started by New.
func (rt *Runtime) Janitor() *session.Janitor { return rt.janitor }

// Metrics returns the collectors fed by the runtime.
func (rt *Runtime) Metrics() *metrics.Metrics { return rt.metrics }

// Tools returns the names of the registered tools.
func (rt *Runtime) Tools() []string { return rt.tools.Names() }

// Logger returns the logger shared by all components.
func (rt *Runtime) Logger() logging.Logger { return rt.logger }

// Config returns the configuration the runtime was built from.
func (rt *Runtime) Config() config.Config { return rt.cfg }

// NewModel builds the provider adapter selected by cfg.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		var reqOpts []openaioption.RequestOption
		if cfg.APIKey != "" {
			reqOpts = append(reqOpts, openaioption.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			reqOpts = append(reqOpts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		client := openaisdk.NewClient(reqOpts...)
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			o.Model = cfg.Name
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
		}), nil
	case "anthropic":
		var reqOpts []anthropicoption.RequestOption
		if cfg.APIKey != "" {
			reqOpts = append(reqOpts, anthropicoption.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			reqOpts = append(reqOpts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		client := anthropicsdk.NewClient(reqOpts...)
		return anthropic.NewModelFromClient(&client, func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Name)
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// NewRetriever builds the knowledge backend selected by cfg. It returns nil
// for the "none" backend.
func NewRetriever(cfg config.KnowledgeConfig, logger logging.Logger) (core.Retriever, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		docs, err := retrieval.LoadDocuments(cfg.File)
		if err != nil {
			return nil, err
		}
		logger.Info("knowledge.loaded", "backend", cfg.Backend, "documents", len(docs))
		return retrieval.NewInMemoryStore(docs...), nil
	case "weaviate":
		return weaviate.New(cfg.WeaviateURL, func(o *weaviate.Options) {
			if cfg.Class != "" {
				o.Class = cfg.Class
			}
			o.Logger = logger
		})
	default:
		return nil, fmt.Errorf("unsupported knowledge backend %q", cfg.Backend)
	}
}
