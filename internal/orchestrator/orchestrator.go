// Package orchestrator runs many review jobs concurrently under a fixed
// permit budget and streams each result to a sink as soon as it is ready.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/steveyegge/polyrev/internal/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Default settings used when Config leaves a field zero.
const (
	DefaultConcurrency = 6
	DefaultLaunchDelay = 500 * time.Millisecond
)

// Runner executes one job and always returns a result.
// *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, job types.Job) *types.JobResult
}

// Store is the idempotency view the orchestrator needs.
// *storage.Store satisfies it.
type Store interface {
	HasRunToday(ctx context.Context, jobID string) (bool, error)
	MarkRun(ctx context.Context, jobID string, findingsCount int) error
}

// Sink receives completed job results in completion order. Write is only
// ever called from one goroutine at a time.
type Sink interface {
	Write(ctx context.Context, result *types.JobResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, result *types.JobResult) error

func (f SinkFunc) Write(ctx context.Context, result *types.JobResult) error { return f(ctx, result) }

// Hooks observe scheduling events. Implementations must be safe for
// concurrent use.
type Hooks interface {
	JobSkipped(jobID string)
	JobStarted(jobID string)
	JobFinished(result *types.JobResult)
}

// Config controls scheduling.
type Config struct {
	Concurrency int           // Permit count; zero uses DefaultConcurrency
	LaunchDelay time.Duration // Minimum gap between launches; zero disables
	Force       bool          // Run jobs even if they already ran today
	Hooks       Hooks         // Optional
	Logger      *slog.Logger  // Optional
}

// Orchestrator schedules jobs. It holds no per-run state, so one value
// may serve several sequential runs.
type Orchestrator struct {
	runner Runner
	store  Store
	sink   Sink
	cfg    Config
	log    *slog.Logger
}

// New creates an orchestrator. A nil store disables idempotency entirely;
// a nil sink discards results.
func New(runner Runner, store Store, sink Sink, cfg Config) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Hooks == nil {
		cfg.Hooks = nopHooks{}
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, *types.JobResult) error { return nil })
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{runner: runner, store: store, sink: sink, cfg: cfg, log: log}, nil
}

// Plan splits jobs into those that would run and those skipped because
// they already completed today.
type Plan struct {
	Runnable []types.Job
	Skipped  []string
}

// Plan consults the idempotency store without running anything. Lookup
// failures fail open: the job is scheduled and a warning is logged.
func (o *Orchestrator) Plan(ctx context.Context, jobs []types.Job) *Plan {
	return Preview(ctx, o.store, jobs, o.cfg.Force, o.log)
}

// Preview is Plan without an Orchestrator, for callers that only want to
// show what a run would do. A nil store or force schedules everything.
func Preview(ctx context.Context, store Store, jobs []types.Job, force bool, log *slog.Logger) *Plan {
	if log == nil {
		log = slog.Default()
	}
	plan := &Plan{}
	for _, job := range jobs {
		if force || store == nil {
			plan.Runnable = append(plan.Runnable, job)
			continue
		}
		done, err := store.HasRunToday(ctx, job.ID)
		if err != nil {
			log.Warn("Idempotency lookup failed, scheduling job anyway", "job", job.ID, "error", err)
			plan.Runnable = append(plan.Runnable, job)
			continue
		}
		if done {
			plan.Skipped = append(plan.Skipped, job.ID)
			continue
		}
		plan.Runnable = append(plan.Runnable, job)
	}
	return plan
}

// Run executes every runnable job exactly once with at most
// Config.Concurrency jobs in flight. Results reach the sink in completion
// order. Run returns an error only when ctx ends before every job was
// launched; the report still covers every job that did run.
func (o *Orchestrator) Run(ctx context.Context, jobs []types.Job) (*Report, error) {
	start := time.Now()
	plan := o.Plan(ctx, jobs)
	report := &Report{Skipped: plan.Skipped}
	for _, id := range plan.Skipped {
		o.log.Info("Skipping job, already ran today", "job", id)
		o.cfg.Hooks.JobSkipped(id)
	}

	results := make(chan *types.JobResult, len(plan.Runnable))
	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for result := range results {
			o.deliver(ctx, result)
			report.Results = append(report.Results, result)
		}
	}()

	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	limiter := o.newLimiter()
	var g errgroup.Group
	var dispatchErr error

	for i, job := range plan.Runnable {
		if err := sem.Acquire(ctx, 1); err != nil {
			dispatchErr = err
			report.NotStarted = jobIDs(plan.Runnable[i:])
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			sem.Release(1)
			dispatchErr = err
			report.NotStarted = jobIDs(plan.Runnable[i:])
			break
		}

		o.log.Debug("Launching job", "job", job.ID, "files", len(job.Files))
		o.cfg.Hooks.JobStarted(job.ID)
		g.Go(func() error {
			result := o.execute(ctx, job)
			sem.Release(1)
			o.cfg.Hooks.JobFinished(result)
			results <- result
			return nil
		})
	}

	_ = g.Wait()
	close(results)
	consumer.Wait()

	report.Duration = time.Since(start)
	if dispatchErr != nil {
		return report, fmt.Errorf("run interrupted with %d jobs not started: %w", len(report.NotStarted), dispatchErr)
	}
	return report, nil
}

// newLimiter spaces launches by LaunchDelay. The first launch is immediate.
func (o *Orchestrator) newLimiter() *rate.Limiter {
	if o.cfg.LaunchDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(o.cfg.LaunchDelay), 1)
}

func (o *Orchestrator) execute(ctx context.Context, job types.Job) (result *types.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Runner panicked", "job", job.ID, "panic", r, "stack", string(debug.Stack()))
			result = failedResult(job, fmt.Sprintf("panic: %v", r))
		}
	}()
	result = o.runner.Execute(ctx, job)
	if result == nil {
		result = failedResult(job, "runner returned no result")
	}
	return result
}

// deliver writes to the sink, then records the run for completed jobs.
// Both writes outlive cancellation of the run so finished work is kept.
func (o *Orchestrator) deliver(ctx context.Context, result *types.JobResult) {
	ctx = context.WithoutCancel(ctx)

	if err := o.sink.Write(ctx, result); err != nil {
		o.log.Warn("Failed to write job result", "job", result.JobID, "error", err)
	}
	if o.store == nil || !result.Status.Completed() {
		return
	}
	if err := o.store.MarkRun(ctx, result.JobID, len(result.Findings)); err != nil {
		o.log.Warn("Failed to record job run", "job", result.JobID, "error", err)
	}
}

func failedResult(job types.Job, msg string) *types.JobResult {
	return &types.JobResult{
		JobID:        job.ID,
		JobName:      job.DisplayName(),
		Status:       types.StatusFailed,
		Error:        msg,
		Findings:     []types.Finding{},
		FilesScanned: len(job.Files),
	}
}

func jobIDs(jobs []types.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

type nopHooks struct{}

func (nopHooks) JobSkipped(string)            {}
func (nopHooks) JobStarted(string)            {}
func (nopHooks) JobFinished(*types.JobResult) {}
