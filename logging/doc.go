// Package logging provides a minimal logging interface and adapters.
//
// Components accept a Logger and default to NoOpLogger. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger with level filtering and contextual attributes
//   - LogTurn, LogPlannerCall and LogToolCall helpers usable with any Logger
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LevelDebug, Format: "text"})
//	loop := agent.NewLoop(planner, func(o *agent.LoopOptions) { o.Logger = logger })
package logging
