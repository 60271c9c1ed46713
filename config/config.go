// Package config loads the runtime configuration from YAML with environment
// overrides and validates it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAMPUSAGENT_"

// DefaultSystemPrompt introduces the assistant to the model. {{join ", " .Tools}}
// expands to the available tool names.
const DefaultSystemPrompt = `You are CampusAgent, an all-capable assistant for university students and staff.
You can use these tools to complete requests efficiently: {{join ", " .Tools}}.

Principles:
1. When you need a tool, call it directly.
2. When all tool calls are done, summarise the results in natural, friendly language and answer the question directly.
3. Do not include technical details, JSON or tool call information in the final reply.
4. Always focus on what actually helps the user.`

// DefaultNextStepPrompt is offered to the model before every step.
const DefaultNextStepPrompt = `Based on the user's needs, choose the most suitable tool or combination of tools.
Break complex tasks down and use different tools step by step.
If all necessary tools have been called, do not call any more tools; answer clearly based on their results.
If you want to stop the interaction at any point, call the terminate tool.`

// Config holds the settings of every subsystem.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Agent     AgentConfig     `yaml:"agent"`
	Stream    StreamConfig    `yaml:"stream"`
	Session   SessionConfig   `yaml:"session"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// RateLimit is the sustained number of chat requests per second per client.
	// Zero disables rate limiting.
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	// DisableMetrics hides the /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics"`
}

// ModelConfig selects the language model backend.
type ModelConfig struct {
	Provider  string `yaml:"provider" validate:"oneof=openai anthropic"`
	Name      string `yaml:"name" validate:"required"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	MaxTokens int    `yaml:"max_tokens" validate:"gte=0"`
	Stream    bool   `yaml:"stream"`
}

// AgentConfig configures the turn loop.
type AgentConfig struct {
	StepBudget     int           `yaml:"step_budget" validate:"gte=1,lte=50"`
	SystemPrompt   string        `yaml:"system_prompt"`
	NextStepPrompt string        `yaml:"next_step_prompt"`
	ToolTimeout    time.Duration `yaml:"tool_timeout" validate:"gte=0"`
	// DisplayNames overrides the labels shown in progress frames.
	DisplayNames map[string]string `yaml:"display_names"`
	// Headings start a new paragraph in the final text.
	Headings        []string `yaml:"headings"`
	DisableFallback bool     `yaml:"disable_fallback"`
}

// StreamConfig configures frame delivery.
type StreamConfig struct {
	ChunkSize int           `yaml:"chunk_size" validate:"gte=1"`
	Interval  time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxSessions     int           `yaml:"max_sessions" validate:"gte=0"`
	JanitorSchedule string        `yaml:"janitor_schedule" validate:"required"`
}

// KnowledgeConfig selects the knowledge base behind the knowledge search tool.
type KnowledgeConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=none memory weaviate"`
	File        string `yaml:"file" validate:"required_if=Backend memory"`
	WeaviateURL string `yaml:"weaviate_url" validate:"required_if=Backend weaviate"`
	Class       string `yaml:"class"`
	// PlannerTopK adds that many snippets to the system prompt on every step.
	// Zero disables prompt augmentation.
	PlannerTopK int `yaml:"planner_top_k" validate:"gte=0,lte=5"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns a Config with sensible defaults for all subsystems.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8123",
			RateLimit:       2,
			RateBurst:       5,
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			Provider:  "openai",
			Name:      "gpt-4o-mini",
			MaxTokens: 1024,
		},
		Agent: AgentConfig{
			StepBudget:     10,
			SystemPrompt:   DefaultSystemPrompt,
			NextStepPrompt: DefaultNextStepPrompt,
		},
		Stream: StreamConfig{
			ChunkSize: 4,
			Interval:  15 * time.Millisecond,
			Timeout:   5 * time.Minute,
		},
		Session: SessionConfig{
			TTL:             30 * time.Minute,
			MaxSessions:     1000,
			JanitorSchedule: "@every 1m",
		},
		Knowledge: KnowledgeConfig{
			Backend: "none",
			Class:   "CampusDocument",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	mergeString(&c.Server.Addr, source.Server.Addr)
	if source.Server.RateLimit > 0 {
		c.Server.RateLimit = source.Server.RateLimit
	}
	mergeInt(&c.Server.RateBurst, source.Server.RateBurst)
	mergeDuration(&c.Server.ShutdownTimeout, source.Server.ShutdownTimeout)
	c.Server.DisableMetrics = c.Server.DisableMetrics || source.Server.DisableMetrics

	mergeString(&c.Model.Provider, source.Model.Provider)
	mergeString(&c.Model.Name, source.Model.Name)
	mergeString(&c.Model.APIKey, source.Model.APIKey)
	mergeString(&c.Model.BaseURL, source.Model.BaseURL)
	mergeInt(&c.Model.MaxTokens, source.Model.MaxTokens)
	c.Model.Stream = c.Model.Stream || source.Model.Stream

	mergeInt(&c.Agent.StepBudget, source.Agent.StepBudget)
	mergeString(&c.Agent.SystemPrompt, source.Agent.SystemPrompt)
	mergeString(&c.Agent.NextStepPrompt, source.Agent.NextStepPrompt)
	mergeDuration(&c.Agent.ToolTimeout, source.Agent.ToolTimeout)
	if len(source.Agent.DisplayNames) > 0 {
		c.Agent.DisplayNames = source.Agent.DisplayNames
	}
	if len(source.Agent.Headings) > 0 {
		c.Agent.Headings = source.Agent.Headings
	}
	c.Agent.DisableFallback = c.Agent.DisableFallback || source.Agent.DisableFallback

	mergeInt(&c.Stream.ChunkSize, source.Stream.ChunkSize)
	mergeDuration(&c.Stream.Interval, source.Stream.Interval)
	mergeDuration(&c.Stream.Timeout, source.Stream.Timeout)

	mergeDuration(&c.Session.TTL, source.Session.TTL)
	mergeInt(&c.Session.MaxSessions, source.Session.MaxSessions)
	mergeString(&c.Session.JanitorSchedule, source.Session.JanitorSchedule)

	mergeString(&c.Knowledge.Backend, source.Knowledge.Backend)
	mergeString(&c.Knowledge.File, source.Knowledge.File)
	mergeString(&c.Knowledge.WeaviateURL, source.Knowledge.WeaviateURL)
	mergeString(&c.Knowledge.Class, source.Knowledge.Class)
	mergeInt(&c.Knowledge.PlannerTopK, source.Knowledge.PlannerTopK)

	mergeString(&c.Logging.Level, source.Logging.Level)
	mergeString(&c.Logging.Format, source.Logging.Format)
}

// Load reads the YAML file at path (if any), merges it with the defaults,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var loaded Config
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.Merge(&loaded)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from CAMPUSAGENT_* variables. When no API key
// is configured the provider's conventional variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY) is used.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("SERVER_ADDR", &c.Server.Addr)
	str("MODEL_PROVIDER", &c.Model.Provider)
	str("MODEL_NAME", &c.Model.Name)
	str("MODEL_API_KEY", &c.Model.APIKey)
	str("MODEL_BASE_URL", &c.Model.BaseURL)
	str("KNOWLEDGE_BACKEND", &c.Knowledge.Backend)
	str("KNOWLEDGE_FILE", &c.Knowledge.File)
	str("WEAVIATE_URL", &c.Knowledge.WeaviateURL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup(EnvPrefix + "STEP_BUDGET"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSTEP_BUDGET: %w", EnvPrefix, err)
		}
		c.Agent.StepBudget = n
	}
	if v, ok := lookup(EnvPrefix + "STREAM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sSTREAM_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Stream.Timeout = d
	}

	if c.Model.APIKey == "" {
		if v, ok := lookup(strings.ToUpper(c.Model.Provider) + "_API_KEY"); ok {
			c.Model.APIKey = v
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src > 0 {
		*dst = src
	}
}

func mergeDuration(dst *time.Duration, src time.Duration) {
	if src > 0 {
		*dst = src
	}
}
