// Package inference fans independent model requests out over the task
// scheduler and gathers them back in. It is the background analysis path
// that runs beside the latency-critical per-event decision path.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
	"gamepilot/internal/scheduler"
	"gamepilot/internal/usage"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Kind classifies an inference request.
type Kind string

const (
	KindAnalysis   Kind = "analysis"
	KindDecision   Kind = "decision"
	KindEvaluation Kind = "evaluation"
)

var (
	// ErrTimeout marks results synthesized for tasks whose deadline elapsed.
	ErrTimeout = errors.New("inference timeout")
	// ErrNoTasks is returned by AwaitFirst for an empty id list.
	ErrNoTasks = errors.New("no tasks to await")
)

// Task is one inference request.
type Task struct {
	ID           string // optional
	Kind         Kind
	Prompt       string
	SystemPrompt string
	Model        llm.Tier // optional tier override
}

// Result is the outcome of one inference task.
type Result struct {
	TaskID  string
	Success bool
	Text    string
	Err     error
	Latency time.Duration
	Cost    float64
}

// Config configures the engine.
type Config struct {
	MaxConcurrentCalls int           // simultaneous model calls
	DefaultTimeout     time.Duration // AwaitAll timeout when none is given
	DefaultTier        llm.Tier
	MaxTokens          int
	Temperature        float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentCalls: 3,
		DefaultTimeout:     20 * time.Second,
		DefaultTier:        llm.TierHaiku,
		MaxTokens:          1024,
		Temperature:        0.2,
	}
}

// Engine submits inference tasks to a scheduler.
type Engine struct {
	config  Config
	sched   *scheduler.Scheduler
	client  llm.Client
	catalog *llm.Catalog
	calls   *semaphore.Weighted

	// Metrics
	submitted int64
	timeouts  int64
}

// NewEngine creates an engine on top of sched.
func NewEngine(config Config, sched *scheduler.Scheduler, client llm.Client, catalog *llm.Catalog) *Engine {
	if config.MaxConcurrentCalls < 1 {
		config.MaxConcurrentCalls = 1
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.DefaultTier == "" {
		config.DefaultTier = llm.TierHaiku
	}
	if catalog == nil {
		catalog = llm.DefaultCatalog()
	}
	return &Engine{
		config:  config,
		sched:   sched,
		client:  client,
		catalog: catalog,
		calls:   semaphore.NewWeighted(int64(config.MaxConcurrentCalls)),
	}
}

// =============================================================================
// FAN-OUT
// =============================================================================

// SubmitTasks submits every task and returns their ids in input order.
// On a submission error the ids submitted so far are returned with it.
func (e *Engine) SubmitTasks(tasks []Task) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		t := t
		id, err := e.sched.Submit(scheduler.Task{
			ID:   t.ID,
			Name: string(t.Kind),
			Run: func(ctx context.Context) (any, error) {
				return e.execute(ctx, t)
			},
		})
		if err != nil {
			return ids, fmt.Errorf("submit %s task: %w", t.Kind, err)
		}
		ids = append(ids, id)
	}
	atomic.AddInt64(&e.submitted, int64(len(ids)))
	logging.InferenceDebug("submitted %d inference tasks", len(ids))
	return ids, nil
}

// execute runs one model call. A returned error marks the scheduler task failed.
func (e *Engine) execute(ctx context.Context, t Task) (*Result, error) {
	if e.client == nil {
		return nil, errors.New("no LLM client configured")
	}
	if err := e.calls.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.calls.Release(1)

	tier := t.Model
	if tier == "" {
		tier = e.config.DefaultTier
	}
	model := e.catalog.Model(tier)
	if model == "" {
		return nil, fmt.Errorf("tier %q has no model configured", tier)
	}

	start := time.Now()
	resp, err := e.client.Send(usage.WithOperation(ctx, string(t.Kind)), t.SystemPrompt, t.Prompt, llm.Options{
		Model:       model,
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Success: true,
		Text:    resp.Content,
		Latency: time.Since(start),
		Cost:    resp.Cost,
	}, nil
}

// =============================================================================
// FAN-IN
// =============================================================================

// AwaitAll returns one result per id, in input order. Tasks still unfinished
// when timeout elapses get a synthesized ErrTimeout failure and keep running.
// A zero timeout uses the configured default.
func (e *Engine) AwaitAll(ctx context.Context, ids []string, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(waitCtx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = e.collect(gctx, id, start)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	logging.Inference("awaitAll: %d tasks, %d failed, %v", len(ids), failed, time.Since(start))
	return results
}

// collect waits for id and converts its terminal state into a Result.
func (e *Engine) collect(ctx context.Context, id string, start time.Time) Result {
	status, err := e.sched.Wait(ctx, id)
	if err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			return Result{TaskID: id, Err: err}
		}
		atomic.AddInt64(&e.timeouts, 1)
		logging.InferenceWarn("task %s timed out after %v (status=%s)", id, time.Since(start), status)
		return Result{TaskID: id, Err: ErrTimeout, Latency: time.Since(start)}
	}
	return e.resultOf(id)
}

func (e *Engine) resultOf(id string) Result {
	info, ok := e.sched.Info(id)
	if !ok {
		return Result{TaskID: id, Err: scheduler.ErrTaskNotFound}
	}
	switch info.Status {
	case scheduler.StatusCompleted:
		if r, ok := info.Result.(*Result); ok && r != nil {
			out := *r
			out.TaskID = id
			return out
		}
		return Result{TaskID: id, Err: fmt.Errorf("unexpected result type %T", info.Result)}
	default:
		err := info.Err
		if err == nil {
			err = fmt.Errorf("task %s", info.Status)
		}
		return Result{TaskID: id, Err: err, Latency: info.FinishedAt.Sub(info.StartedAt)}
	}
}

// AwaitFirst returns the result of whichever task reaches a terminal state
// first, regardless of submission order. Nothing is cancelled.
func (e *Engine) AwaitFirst(ctx context.Context, ids []string) (Result, error) {
	if len(ids) == 0 {
		return Result{}, ErrNoTasks
	}

	stop := make(chan struct{})
	defer close(stop)

	first := make(chan string, len(ids))
	watching := 0
	for _, id := range ids {
		done, ok := e.sched.Done(id)
		if !ok {
			continue
		}
		watching++
		go func(id string, done <-chan struct{}) {
			select {
			case <-done:
				first <- id
			case <-stop:
			}
		}(id, done)
	}
	if watching == 0 {
		return Result{}, fmt.Errorf("%w: none of %d ids", scheduler.ErrTaskNotFound, len(ids))
	}

	select {
	case id := <-first:
		return e.resultOf(id), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run submits tasks and awaits them all.
func (e *Engine) Run(ctx context.Context, tasks []Task, timeout time.Duration) ([]Result, error) {
	ids, err := e.SubmitTasks(tasks)
	if err != nil && len(ids) == 0 {
		return nil, err
	}
	return e.AwaitAll(ctx, ids, timeout), err
}

// AggregateResults joins the text of successful results, in input order,
// separated by a blank line. Failed results are skipped.
func AggregateResults(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			parts = append(parts, r.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Stats returns submitted and timed-out counts.
func (e *Engine) Stats() (submitted, timeouts int64) {
	return atomic.LoadInt64(&e.submitted), atomic.LoadInt64(&e.timeouts)
}
