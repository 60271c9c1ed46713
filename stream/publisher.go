package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/campusagent/agent"
	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/synth"
)

// Default labels of the thinking frames.
const (
	DefaultThinkingStart = "Thinking..."
	DefaultThinkingEnd   = "Thought process complete, assembling the answer..."
)

// CloseReason tells why a stream ended.
type CloseReason string

const (
	ReasonCompleted CloseReason = "completed"
	ReasonRejected  CloseReason = "rejected"
	ReasonFailed    CloseReason = "failed"
	ReasonTimeout   CloseReason = "timeout"
	ReasonCanceled  CloseReason = "canceled"
)

// TurnRunner runs one agent turn. *agent.Loop implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, sess *core.Session, input string, onProgress agent.ProgressFunc) (*core.TurnOutcome, error)
}

// Finalizer produces the final text of a finished turn. *synth.Synthesizer implements it.
type Finalizer interface {
	Finalize(ctx context.Context, sess *core.Session, outcome *core.TurnOutcome) string
}

// Observer is notified when streams open and close.
type Observer interface {
	StreamOpened()
	StreamClosed(reason CloseReason, dur time.Duration)
}

// NoOpObserver ignores all notifications.
type NoOpObserver struct{}

func (NoOpObserver) StreamOpened() {}
func (NoOpObserver) StreamClosed(CloseReason, time.Duration) {}

// Options configures a Publisher.
type Options struct {
	// ChunkSize is the number of runes per chunk frame.
	ChunkSize int
	// Interval is the pause between chunk frames. Zero disables pacing.
	Interval time.Duration
	// Timeout bounds a whole stream. Zero disables the limit.
	Timeout time.Duration
	// BufferSize is the capacity of the frame channel.
	BufferSize    int
	ThinkingStart string
	ThinkingEnd   string
	Logger        logging.Logger
	Observer      Observer
}

// Publisher starts turns in the background and streams their frames.
// Public methods are safe for concurrent use.
type Publisher struct {
	runner    TurnRunner
	finalizer Finalizer
	opts      Options

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Publisher.
func New(runner TurnRunner, finalizer Finalizer, optFns ...func(o *Options)) *Publisher {
	opts := Options{
		ChunkSize:     synth.DefaultChunkSize,
		Interval:      15 * time.Millisecond,
		Timeout:       5 * time.Minute,
		BufferSize:    64,
		ThinkingStart: DefaultThinkingStart,
		ThinkingEnd:   DefaultThinkingEnd,
		Logger:        logging.NoOpLogger{},
		Observer:      NoOpObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}

	return &Publisher{
		runner:    runner,
		finalizer: finalizer,
		opts:      opts,
		active:    make(map[string]context.CancelFunc),
	}
}

// Subscription is a live stream of frames for one turn. Frames is closed
// after the last frame.
type Subscription struct {
	ID     string
	Frames <-chan Frame
	cancel context.CancelFunc
}

// Cancel stops the turn. The stream closes without further frames.
func (s *Subscription) Cancel() { s.cancel() }

// Open starts a turn on sess and returns immediately. The turn runs until it
// ends, the subscription is canceled, ctx is done or the timeout expires.
func (p *Publisher) Open(ctx context.Context, sess *core.Session, input string) *Subscription {
	id := core.NewID()
	frames := make(chan Frame, p.opts.BufferSize)

	var cancel context.CancelFunc
	if p.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	p.mu.Lock()
	p.active[id] = cancel
	p.mu.Unlock()

	p.opts.Observer.StreamOpened()
	p.opts.Logger.Debug("stream.open", "stream_id", id, "session_id", sess.ID)

	go func() {
		start := time.Now()
		s := &emitter{ctx: ctx, frames: frames}
		reason := ReasonFailed

		defer func() {
			if r := recover(); r != nil {
				p.opts.Logger.Error("stream.panic", "stream_id", id, "recover", r)
				s.force(Error(fmt.Sprintf("internal error: %v", r)))
			}
			cancel()
			s.close()

			p.mu.Lock()
			delete(p.active, id)
			p.mu.Unlock()

			dur := time.Since(start)
			p.opts.Observer.StreamClosed(reason, dur)
			p.opts.Logger.Info("stream.closed", "stream_id", id, "session_id", sess.ID, "reason", string(reason), "duration_ms", dur.Milliseconds())
		}()

		reason = p.run(s, sess, input)
	}()

	return &Subscription{ID: id, Frames: frames, cancel: cancel}
}

// Cancel stops the stream with the given id.
func (p *Publisher) Cancel(id string) error {
	p.mu.Lock()
	cancel, ok := p.active[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream %s not found", id)
	}
	cancel()
	return nil
}

// Active returns the number of open streams.
func (p *Publisher) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Publisher) run(s *emitter, sess *core.Session, input string) CloseReason {
	if err := precheck(sess, input); err != nil {
		return p.reject(s, err)
	}
	if !s.send(Progress(p.opts.ThinkingStart)) {
		return p.interrupted(s)
	}

	type turn struct {
		outcome *core.TurnOutcome
		err     error
	}
	res, ok := await(s.ctx, func() turn {
		outcome, err := p.runner.RunTurn(s.ctx, sess, input, func(pr agent.Progress) {
			s.send(Progress(pr.Label))
		})
		return turn{outcome, err}
	})
	if !ok {
		return p.interrupted(s)
	}
	if res.err != nil {
		return p.reject(s, res.err)
	}
	if s.ctx.Err() != nil {
		return p.interrupted(s)
	}
	outcome := res.outcome
	if outcome.State == core.StateError {
		msg := "Execution error"
		if outcome.Err != nil {
			msg += ": " + outcome.Err.Error()
		}
		s.send(Chunk(msg))
		s.send(Done())
		return ReasonFailed
	}

	if !s.send(Progress(p.opts.ThinkingEnd)) {
		return p.interrupted(s)
	}

	text, ok := await(s.ctx, func() string {
		return p.finalizer.Finalize(s.ctx, sess, outcome)
	})
	if !ok {
		return p.interrupted(s)
	}
	if !p.pace(s, synth.Chunk(text, p.opts.ChunkSize)) {
		return p.interrupted(s)
	}
	if !s.send(Done()) {
		return p.interrupted(s)
	}
	return ReasonCompleted
}

// await runs fn in its own goroutine and returns its result, or false once
// ctx is done. fn keeps running after an early return. A panic in fn is
// re-raised in the caller.
func await[T any](ctx context.Context, fn func() T) (T, bool) {
	type result struct {
		v         T
		recovered any
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			r.recovered = recover()
			done <- r
		}()
		r.v = fn()
	}()

	select {
	case r := <-done:
		if r.recovered != nil {
			panic(r.recovered)
		}
		return r.v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// pace emits chunks with Interval between them.
func (p *Publisher) pace(s *emitter, chunks []string) bool {
	var tick <-chan time.Time
	if p.opts.Interval > 0 && len(chunks) > 1 {
		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i, c := range chunks {
		if i > 0 && tick != nil {
			select {
			case <-tick:
			case <-s.ctx.Done():
				return false
			}
		}
		if !s.send(Chunk(c)) {
			return false
		}
	}
	return true
}

func (p *Publisher) reject(s *emitter, err error) CloseReason {
	p.opts.Logger.Warn("stream.rejected", "error", err.Error())
	s.send(Error(err.Error()))
	s.send(Done())
	return ReasonRejected
}

// interrupted reports a stream ended by its context. Only a timeout gets an
// error frame.
func (p *Publisher) interrupted(s *emitter) CloseReason {
	if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		s.force(Error(core.ErrStreamTimeout.Error()))
		return ReasonTimeout
	}
	return ReasonCanceled
}

func precheck(sess *core.Session, input string) error {
	if st := sess.State(); st != core.StateIdle {
		return fmt.Errorf("%w: session %q is %s", core.ErrInvalidState, sess.ID, st)
	}
	if strings.TrimSpace(input) == "" {
		return core.ErrEmptyInput
	}
	return nil
}

// emitter writes frames for one stream. A turn abandoned after a timeout
// may still report progress, so every write checks closed under mu.
type emitter struct {
	ctx    context.Context
	frames chan Frame

	mu     sync.Mutex
	closed bool
}

// send delivers f unless the context ends first.
func (e *emitter) send(f Frame) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.ctx.Err() != nil {
		return false
	}
	select {
	case e.frames <- f:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// force delivers f if there is room in the buffer, regardless of the context.
func (e *emitter) force(f Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.frames <- f:
	default:
	}
}

// close closes the frame channel. Later writes are dropped.
func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.frames)
	}
}
