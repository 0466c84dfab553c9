// Package scheduler is a generic registry for asynchronous tasks.
// It runs submitted work on a bounded number of slots, tracks each task
// through pending, running and exactly one terminal state, and supports
// cooperative cancellation and bulk shutdown. It knows nothing about games
// or models.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gamepilot/internal/logging"

	"github.com/google/uuid"
)

// =============================================================================
// TASK LIFECYCLE
// =============================================================================

// Status is where a task is in its lifecycle.
type Status int

const (
	// StatusUnknown - id was never submitted or has been cleared
	StatusUnknown Status = iota
	// StatusPending - submitted, waiting for a slot
	StatusPending
	// StatusRunning - executing
	StatusRunning
	// StatusCompleted - finished with a result
	StatusCompleted
	// StatusFailed - finished with an error
	StatusFailed
	// StatusCancelled - cancelled before finishing; any late result is discarded
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Func is a unit of asynchronous work. The context is cancelled when the
// task is cancelled or the scheduler shuts down; honoring it is optional.
type Func func(ctx context.Context) (any, error)

// Task is submitted work.
type Task struct {
	ID   string // optional; a uuid is assigned when empty
	Name string // for logs
	Run  Func
}

var (
	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = errors.New("scheduler is shut down")
	// ErrTaskNotFound is returned for unknown or cleared ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicateID is returned when a caller-chosen id is already registered.
	ErrDuplicateID = errors.New("task id already registered")
	// ErrNilTask is returned when Run is nil.
	ErrNilTask = errors.New("task has no Run func")
)

// Info is a point-in-time copy of a task's state.
type Info struct {
	ID          string
	Name        string
	Status      Status
	Result      any
	Err         error
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

type taskState struct {
	info   Info
	cancel context.CancelFunc
	done   chan struct{} // closed on entering a terminal state
}

// -----------------------------------------------------------------------------
// Scheduler
// -----------------------------------------------------------------------------

// Config configures the scheduler.
type Config struct {
	MaxConcurrent int // simultaneous running tasks
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 4}
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Cancelled int64
	Pending   int
	Running   int
	Tracked   int
}

// Scheduler runs tasks and is the single writer of their status.
type Scheduler struct {
	config Config
	slots  chan struct{}

	mu       sync.RWMutex
	tasks    map[string]*taskState
	shutdown bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// Metrics
	submitted int64
	completed int64
	failed    int64
	cancelled int64
}

// New creates a scheduler.
func New(config Config) *Scheduler {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:     config,
		slots:      make(chan struct{}, config.MaxConcurrent),
		tasks:      make(map[string]*taskState),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Submit registers a task and starts it as soon as a slot is free.
func (s *Scheduler) Submit(task Task) (string, error) {
	if task.Run == nil {
		return "", ErrNilTask
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return "", ErrShutdown
	}
	id := task.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	st := &taskState{
		info: Info{
			ID:          id,
			Name:        task.Name,
			Status:      StatusPending,
			SubmittedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[id] = st
	s.wg.Add(1)
	s.mu.Unlock()

	atomic.AddInt64(&s.submitted, 1)
	logging.SchedulerDebug("submitted task %s (%s)", id, task.Name)

	go s.run(ctx, st, task.Run)
	return id, nil
}

func (s *Scheduler) run(ctx context.Context, st *taskState, fn Func) {
	defer s.wg.Done()
	defer st.cancel()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		// Cancelled while pending; Cancel/Shutdown already recorded the state.
		return
	}
	defer func() { <-s.slots }()

	s.mu.Lock()
	if st.info.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	st.info.Status = StatusRunning
	st.info.StartedAt = time.Now()
	s.mu.Unlock()

	result, err := execute(ctx, fn)

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.info.Status != StatusRunning {
		logging.SchedulerDebug("discarding late result of task %s (status=%s)", st.info.ID, st.info.Status)
		return
	}
	if err != nil {
		s.finishLocked(st, StatusFailed, nil, err)
		atomic.AddInt64(&s.failed, 1)
		logging.SchedulerWarn("task %s failed after %v: %v", st.info.ID, st.info.FinishedAt.Sub(st.info.StartedAt), err)
		return
	}
	s.finishLocked(st, StatusCompleted, result, nil)
	atomic.AddInt64(&s.completed, 1)
	logging.SchedulerDebug("task %s completed in %v", st.info.ID, st.info.FinishedAt.Sub(st.info.StartedAt))
}

// execute runs fn and turns a panic into an error.
func execute(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) finishLocked(st *taskState, status Status, result any, err error) {
	st.info.Status = status
	st.info.Result = result
	st.info.Err = err
	st.info.FinishedAt = time.Now()
	close(st.done)
}

// Status returns the status of id, or StatusUnknown.
func (s *Scheduler) Status(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.tasks[id]; ok {
		return st.info.Status
	}
	return StatusUnknown
}

// Info returns a copy of the task's state.
func (s *Scheduler) Info(id string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.tasks[id]; ok {
		return st.info, true
	}
	return Info{}, false
}

// Done returns a channel closed when the task reaches a terminal state.
func (s *Scheduler) Done(id string) (<-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.tasks[id]; ok {
		return st.done, true
	}
	return nil, false
}

// Wait blocks until the task is terminal or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) (Status, error) {
	done, ok := s.Done(id)
	if !ok {
		return StatusUnknown, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	select {
	case <-done:
		return s.Status(id), nil
	case <-ctx.Done():
		return s.Status(id), ctx.Err()
	}
}

// GetResult waits for the task and returns its result. The bool is false
// when the task failed, was cancelled, is unknown, or ctx ended first.
func (s *Scheduler) GetResult(ctx context.Context, id string) (any, bool) {
	status, err := s.Wait(ctx, id)
	if err != nil || status != StatusCompleted {
		return nil, false
	}
	info, ok := s.Info(id)
	if !ok {
		return nil, false
	}
	return info.Result, true
}

// Result is the typed form of GetResult. A result of another type reports false.
func Result[T any](ctx context.Context, s *Scheduler, id string) (T, bool) {
	var zero T
	v, ok := s.GetResult(ctx, id)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Cancel cancels a pending or running task. A running task is not
// interrupted; its context is cancelled and its eventual result discarded.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok || st.info.Status.IsTerminal() {
		return false
	}
	s.finishLocked(st, StatusCancelled, nil, context.Canceled)
	st.cancel()
	atomic.AddInt64(&s.cancelled, 1)
	logging.Scheduler("cancelled task %s", id)
	return true
}

// ClearCompleted forgets every task in a terminal state.
func (s *Scheduler) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for id, st := range s.tasks {
		if st.info.Status.IsTerminal() {
			delete(s.tasks, id)
			cleared++
		}
	}
	if cleared > 0 {
		logging.SchedulerDebug("cleared %d finished tasks", cleared)
	}
	return cleared
}

// Shutdown cancels every pending and running task and rejects further
// submissions permanently. It does not wait for running funcs to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true

	n := 0
	for _, st := range s.tasks {
		if !st.info.Status.IsTerminal() {
			s.finishLocked(st, StatusCancelled, nil, ErrShutdown)
			atomic.AddInt64(&s.cancelled, 1)
			n++
		}
	}
	s.mu.Unlock()

	s.baseCancel()
	logging.Scheduler("shutdown: cancelled %d tasks", n)
}

// IsShutdown reports whether Shutdown was called.
func (s *Scheduler) IsShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// Drain waits until every task goroutine has returned or ctx ends.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of counters.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Submitted: atomic.LoadInt64(&s.submitted),
		Completed: atomic.LoadInt64(&s.completed),
		Failed:    atomic.LoadInt64(&s.failed),
		Cancelled: atomic.LoadInt64(&s.cancelled),
		Tracked:   len(s.tasks),
	}
	for _, st := range s.tasks {
		switch st.info.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		}
	}
	return stats
}
