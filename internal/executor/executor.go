// Package executor drives a single review job end to end: chunk planning,
// sequential chunk invocation with retry, and parsing of the final output.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/steveyegge/polyrev/internal/parser"
	"github.com/steveyegge/polyrev/internal/provider"
	"github.com/steveyegge/polyrev/internal/retry"
	"github.com/steveyegge/polyrev/internal/types"
)

// DefaultTimeout applies to jobs that do not set one.
const DefaultTimeout = 300 * time.Second

// Observer receives attempt-level telemetry. Implementations must be safe
// for concurrent use.
type Observer interface {
	AttemptFinished(jobID string, outcome types.AttemptOutcome, d time.Duration)
}

// Config holds executor dependencies.
type Config struct {
	Providers       provider.Registry
	DefaultProvider string // Used when Job.Provider is empty
	Prompts         PromptLoader
	Retry           retry.Policy
	DefaultTimeout  time.Duration
	Observer        Observer         // Optional
	Now             func() time.Time // Optional, for tests
}

// Executor runs jobs. One Executor may run many jobs concurrently; all
// per-job state lives on the stack of Execute.
type Executor struct {
	cfg     Config
	prompts *PromptBuilder
}

// New creates an executor.
func New(cfg Config) (*Executor, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompt loader is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	pb, err := NewPromptBuilder()
	if err != nil {
		return nil, err
	}
	return &Executor{cfg: cfg, prompts: pb}, nil
}

// Execute runs one job and always returns a result. Failures of any kind,
// including panics, become a failed result rather than an error.
func (e *Executor) Execute(ctx context.Context, job types.Job) (result *types.JobResult) {
	start := e.cfg.Now()
	result = &types.JobResult{
		JobID:        job.ID,
		JobName:      job.DisplayName(),
		StartedAt:    start,
		FilesScanned: len(job.Files),
		Findings:     []types.Finding{},
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job panicked", "job", job.ID, "panic", r, "stack", string(debug.Stack()))
			result.Status = types.StatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = e.cfg.Now().Sub(start)
	}()

	if err := e.run(ctx, job, result); err != nil {
		result.Status = types.StatusFailed
		result.Error = err.Error()
		slog.Warn("Job failed", "job", job.ID, "attempts", result.AttemptsUsed, "error", err)
		return result
	}

	slog.Info("Job finished",
		"job", job.ID,
		"status", result.Status,
		"findings", len(result.Findings),
		"warnings", len(result.Warnings),
		"attempts", result.AttemptsUsed)
	return result
}

func (e *Executor) run(ctx context.Context, job types.Job, result *types.JobResult) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrChunkPlanning, err)
	}
	if len(job.Files) == 0 {
		return fmt.Errorf("%w: job %s has no files", ErrChunkPlanning, job.ID)
	}

	providerName := job.Provider
	if providerName == "" {
		providerName = e.cfg.DefaultProvider
	}
	client, err := e.cfg.Providers.Get(providerName)
	if err != nil {
		return err
	}

	base, err := e.cfg.Prompts.Load(job.PromptRef)
	if err != nil {
		return err
	}

	chunks, err := PlanChunks(job.ID, job.Files, job.MaxFiles)
	if err != nil {
		return err
	}

	timeout := job.Timeout
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeout
	}

	slog.Info("Job starting",
		"job", job.ID,
		"provider", client.Name(),
		"files", len(job.Files),
		"chunks", len(chunks))

	var token, finalOutput string
	if closer, ok := client.(provider.SessionCloser); ok {
		defer func() {
			if token != "" {
				closer.CloseSession(token)
			}
		}()
	}
	for _, chunk := range chunks {
		chunk.SessionToken = token
		resp, err := e.runChunk(ctx, job, client, base, chunk, timeout, result)
		result.ChunksRun++
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.Label(), err)
		}

		if !chunk.IsFinal() {
			e.checkIntermediate(job, chunk, resp, result)
		}
		token = resp.SessionToken
		finalOutput = resp.RawOutput
	}

	parsed := parser.Parse(finalOutput, parser.Options{
		JobID:           job.ID,
		DefaultPriority: job.Priority,
	})
	result.Findings = append(result.Findings, parsed.Findings...)
	result.Warnings = append(result.Warnings, parsed.WarningStrings()...)
	if parsed.NoStructuredOutput {
		result.Warnings = append(result.Warnings, "no structured output found in final chunk")
	}

	result.Status = types.StatusSuccess
	if parsed.Dropped > 0 {
		result.Status = types.StatusPartial
	}
	return nil
}

// runChunk invokes one chunk under the retry policy, recording each attempt.
func (e *Executor) runChunk(ctx context.Context, job types.Job, client provider.Client, base string,
	chunk types.Chunk, timeout time.Duration, result *types.JobResult) (*provider.Response, error) {

	prompt, err := e.prompts.Build(base, chunk)
	if err != nil {
		return nil, err
	}

	req := provider.Request{
		JobID:        job.ID,
		PromptRef:    job.PromptRef,
		Prompt:       prompt,
		Files:        chunk.Files,
		SessionToken: chunk.SessionToken,
		Timeout:      timeout,
		Sequence:     chunk.Sequence,
		TotalChunks:  chunk.Total,
	}

	var resp *provider.Response
	attempts, err := e.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		started := e.cfg.Now()
		r, invokeErr := client.Invoke(ctx, req)
		elapsed := e.cfg.Now().Sub(started)

		rec := types.ExecutionAttempt{
			ChunkSequence: chunk.Sequence,
			AttemptNumber: attempt,
			StartedAt:     started,
			Duration:      elapsed,
			Outcome:       outcomeOf(invokeErr),
		}
		if invokeErr != nil {
			rec.Error = invokeErr.Error()
		} else {
			rec.RawOutput = r.RawOutput
			resp = r
		}
		result.Attempts = append(result.Attempts, rec)
		if e.cfg.Observer != nil {
			e.cfg.Observer.AttemptFinished(job.ID, rec.Outcome, elapsed)
		}
		return invokeErr
	}, func(attempt int, err error, wait time.Duration) {
		slog.Warn("Chunk attempt failed, retrying",
			"job", job.ID,
			"chunk", chunk.Label(),
			"attempt", attempt,
			"maxAttempts", e.cfg.Retry.MaxAttempts,
			"wait", wait,
			"error", err)
	})
	result.AttemptsUsed += attempts
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// checkIntermediate flags intermediate chunks that broke the accumulation
// convention or lost the session.
func (e *Executor) checkIntermediate(job types.Job, chunk types.Chunk, resp *provider.Response, result *types.JobResult) {
	if parser.ContainsFindings(resp.RawOutput, job.ID) {
		msg := fmt.Sprintf("chunk %s returned findings before the final chunk; they were not collected", chunk.Label())
		slog.Warn("Intermediate chunk emitted findings", "job", job.ID, "chunk", chunk.Label())
		result.Warnings = append(result.Warnings, msg)
	}
	if resp.SessionToken == "" {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("chunk %s returned no session token; later chunks run without prior context", chunk.Label()))
	}
	slog.Debug("Chunk acknowledged",
		"job", job.ID,
		"chunk", chunk.Label(),
		"reply", firstLine(resp.RawOutput))
}

func outcomeOf(err error) types.AttemptOutcome {
	if err == nil {
		return types.OutcomeSuccess
	}
	var perr *provider.Error
	if (errors.As(err, &perr) && perr.Kind == provider.KindTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return types.OutcomeTimeout
	}
	if retry.Classify(err) == retry.ClassFatal {
		return types.OutcomeFatalError
	}
	return types.OutcomeTransientError
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	if s == "" {
		return "(no response)"
	}
	return s
}
