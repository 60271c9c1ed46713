package core

import "errors"

var (
	// ErrInvalidState is returned when a turn is started on a session that is not Idle.
	ErrInvalidState = errors.New("agent is not idle")
	// ErrEmptyInput is returned when the user input is blank.
	ErrEmptyInput = errors.New("input is empty")
	// ErrModelUnavailable wraps planner transport, auth and model errors.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrMalformedPlan is returned when a model reply cannot be interpreted as a plan.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrToolNotFound is returned when a tool call names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrStreamTimeout is reported when a stream exceeds its overall deadline.
	ErrStreamTimeout = errors.New("stream timed out")
)
