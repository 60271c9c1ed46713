package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/hupe1980/campusagent/logging"
)

// DefaultSchedule runs the janitor once a minute.
const DefaultSchedule = "@every 1m"

// Evicter is implemented by stores that can drop stale sessions.
type Evicter interface {
	Evict(now time.Time) int
}

// JanitorOptions configures a Janitor.
type JanitorOptions struct {
	// Schedule is a cron expression or descriptor such as "@every 30s".
	Schedule string
	Logger   logging.Logger
	// Now is the clock used for eviction.
	Now func() time.Time
}

// Janitor evicts stale sessions on a cron schedule.
type Janitor struct {
	store Evicter
	opts  JanitorOptions

	mu   sync.Mutex
	cron *rcron.Cron
	done chan struct{}
}

// NewJanitor validates the schedule and returns a stopped Janitor.
func NewJanitor(store Evicter, optFns ...func(o *JanitorOptions)) (*Janitor, error) {
	opts := JanitorOptions{
		Schedule: DefaultSchedule,
		Logger:   logging.NoOpLogger{},
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if _, err := rcron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", opts.Schedule, err)
	}
	return &Janitor{store: store, opts: opts}, nil
}

// Sweep runs one eviction pass immediately.
func (j *Janitor) Sweep() int {
	n := j.store.Evict(j.opts.Now())
	j.opts.Logger.Debug("session.janitor.sweep", "evicted", n)
	return n
}

// Start schedules sweeps until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := rcron.New()
	if _, err := c.AddFunc(j.opts.Schedule, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()
	j.cron = c
	j.done = make(chan struct{})
	j.opts.Logger.Info("session.janitor.started", "schedule", j.opts.Schedule)

	go func(done <-chan struct{}) {
		select {
		case <-ctx.Done():
			j.Stop()
		case <-done:
		}
	}(j.done)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c, done := j.cron, j.done
	j.cron, j.done = nil, nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	close(done)

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		j.opts.Logger.Warn("session.janitor.stop_timeout")
	}
	j.opts.Logger.Info("session.janitor.stopped")
}
