package core

// AgentState is the lifecycle state of a session's agent.
//
//	Idle -> Running -> Finished | Error -> Idle
type AgentState int

const (
	StateIdle AgentState = iota
	StateRunning
	StateFinished
	StateError
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s AgentState) CanTransition(next AgentState) bool {
	switch s {
	case StateIdle:
		return next == StateRunning
	case StateRunning:
		return next == StateFinished || next == StateError
	case StateFinished, StateError:
		return next == StateIdle
	default:
		return false
	}
}

// Terminal reports whether s ends a turn.
func (s AgentState) Terminal() bool {
	return s == StateFinished || s == StateError
}
