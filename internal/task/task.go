// Package task implements a cancellable sequence of asynchronous stages.
//
// Each stage starts some work and hands back a Pending: a channel that settles
// with the outcome and an abort callback. Run drives the stages strictly in
// order and never starts a stage before its predecessor settled. Abort invokes
// the current stage's abort callback and stops the task without running the
// remaining stages.
package task

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the lifecycle state of a Task.
type State int

// Task states.
const (
	StateIdle State = iota
	StateRunning
	StateCancelled
	StateFailed
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateFailed || s == StateCompleted
}

// Pending is the in-flight result of a started stage. Done must deliver
// exactly one value unless the stage is aborted. Abort may be nil.
type Pending struct {
	Done  <-chan error
	Abort func()
}

// StartFunc starts a stage.
type StartFunc func(ctx context.Context) (Pending, error)

type stage struct {
	name  string
	start StartFunc
}

// Task is an ordered list of stages executed once.
type Task struct {
	id     ulid.ULID
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	stages   []stage
	state    State
	current  int
	abortCur func()
	stopped  bool
	started  bool

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

// New creates an idle task.
func New(name string, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return &Task{
		id:      id,
		name:    name,
		logger:  logger.With(slog.String("task", name), slog.String("task_id", id.String())),
		current: -1,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID returns the task's unique id.
func (t *Task) ID() ulid.ULID {
	return t.id
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Add appends a stage. Stages added after Run has started are ignored.
func (t *Task) Add(name string, start StartFunc) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		t.stages = append(t.stages, stage{name: name, start: start})
	}
	return t
}

// Len returns the number of stages.
func (t *Task) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stages)
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stage returns the index of the running stage, or -1.
func (t *Task) Stage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return -1
	}
	return t.current
}

// Stopped reports whether a stage ended the task early with ErrStop.
func (t *Task) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Abort cancels the task. The current stage's abort callback is invoked from
// the goroutine executing Run. Abort does not wait; use Done for that.
// Calling Abort on a finished task has no effect.
func (t *Task) Abort() {
	t.cancelOnce.Do(func() { close(t.cancel) })
}

// Run executes the stages in order and returns once the task is terminal.
// It returns nil when every stage completed or a stage returned ErrStop,
// ErrAborted when the task was cancelled, and a *StageError otherwise.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	stages := t.stages
	t.mu.Unlock()

	select {
	case <-t.cancel:
		t.finish(StateCancelled)
		return ErrAborted
	default:
	}

	t.setState(StateRunning)
	t.logger.DebugContext(ctx, "task started", slog.Int("stage_count", len(stages)))
	startTime := time.Now()

	for i, s := range stages {
		if err := t.interrupted(ctx); err != nil {
			t.finish(StateCancelled)
			return err
		}

		t.mu.Lock()
		t.current = i
		t.mu.Unlock()

		err := t.runStage(ctx, i, s)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrStop):
			t.mu.Lock()
			t.stopped = true
			t.mu.Unlock()
			t.finish(StateCompleted)
			t.logger.DebugContext(ctx, "task stopped early",
				slog.String("stage", s.name),
				slog.Int("stage_index", i),
				slog.Duration("duration", time.Since(startTime)),
			)
			return nil
		case errors.Is(err, ErrAborted):
			t.finish(StateCancelled)
			t.logger.DebugContext(ctx, "task aborted",
				slog.String("stage", s.name),
				slog.Int("stage_index", i),
			)
			return err
		default:
			t.finish(StateFailed)
			return &StageError{Stage: s.name, Index: i, Err: err}
		}
	}

	t.finish(StateCompleted)
	t.logger.DebugContext(ctx, "task completed", slog.Duration("duration", time.Since(startTime)))
	return nil
}

func (t *Task) runStage(ctx context.Context, i int, s stage) error {
	p, err := s.start(ctx)
	if err != nil {
		return err
	}
	if p.Done == nil {
		return nil
	}

	select {
	case err := <-p.Done:
		return err
	case <-t.cancel:
		t.abortStage(p)
		return ErrAborted
	case <-ctx.Done():
		t.abortStage(p)
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}
}

func (t *Task) abortStage(p Pending) {
	if p.Abort != nil {
		p.Abort()
	}
}

func (t *Task) interrupted(ctx context.Context) error {
	select {
	case <-t.cancel:
		return ErrAborted
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	default:
		return nil
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) finish(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	close(t.done)
}

// Settled returns a Pending that has already resolved with err.
func Settled(err error) Pending {
	ch := make(chan error, 1)
	ch <- err
	return Pending{Done: ch}
}

// Sync wraps a synchronous function as a stage.
func Sync(fn func(ctx context.Context) error) StartFunc {
	return func(ctx context.Context) (Pending, error) {
		return Settled(fn(ctx)), nil
	}
}

// Go runs fn on its own goroutine. Aborting the stage cancels fn's context.
func Go(fn func(ctx context.Context) error) StartFunc {
	return func(ctx context.Context) (Pending, error) {
		ctx, cancel := context.WithCancel(ctx)
		ch := make(chan error, 1)
		go func() {
			defer cancel()
			ch <- fn(ctx)
		}()
		return Pending{Done: ch, Abort: cancel}, nil
	}
}
