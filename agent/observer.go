package agent

import (
	"time"

	"github.com/hupe1980/campusagent/core"
)

// Observer receives lifecycle notifications from the loop and executor.
// Implementations must be safe for concurrent use across sessions.
type Observer interface {
	TurnStarted(sessionID string)
	StepCompleted(sessionID string, trace core.StepTrace, plannerLatency time.Duration)
	ToolCompleted(name string, dur time.Duration, err error)
	TurnCompleted(outcome *core.TurnOutcome)
}

// NoOpObserver ignores all notifications.
type NoOpObserver struct{}

func (NoOpObserver) TurnStarted(string) {}
func (NoOpObserver) StepCompleted(string, core.StepTrace, time.Duration) {}
func (NoOpObserver) ToolCompleted(string, time.Duration, error) {}
func (NoOpObserver) TurnCompleted(*core.TurnOutcome) {}
