package core

import "sync"

// DefaultStepBudget is the number of think steps allowed per turn when a
// session does not configure one.
const DefaultStepBudget = 10

// StepCounter tracks think steps against a positive budget.
type StepCounter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepCounter creates a counter. Non-positive budgets fall back to DefaultStepBudget.
func NewStepCounter(max int) *StepCounter {
	if max <= 0 {
		max = DefaultStepBudget
	}
	return &StepCounter{max: max}
}

// Next advances the counter and returns the new step number. ok is false when
// the budget is already spent, in which case the counter is unchanged.
func (sc *StepCounter) Next() (step int, ok bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.count >= sc.max {
		return sc.count, false
	}
	sc.count++
	return sc.count, true
}

// Count returns the number of steps taken.
func (sc *StepCounter) Count() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.count
}

// Budget returns the configured maximum.
func (sc *StepCounter) Budget() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.max
}

// Remaining returns how many steps are left.
func (sc *StepCounter) Remaining() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.max - sc.count
}

// Reset zeroes the counter.
func (sc *StepCounter) Reset() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.count = 0
}
