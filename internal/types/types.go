package types

import (
	"fmt"
	"time"
)

// Job is one reviewer's scheduled unit of work against an assigned file set.
// A Job is immutable once it has been handed to the orchestrator.
type Job struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Files     []string      `json:"files"`      // Ordered; chunk boundaries follow this order
	PromptRef string        `json:"prompt_ref"` // Path to the prompt template
	Provider  string        `json:"provider"`   // Provider client name (claude_cli, codex_cli, anthropic_api)
	Timeout   time.Duration `json:"timeout"`    // Per-chunk timeout
	MaxFiles  int           `json:"max_files"`  // Chunk size threshold (0 = single chunk)
	Priority  Priority      `json:"priority"`   // Default priority for findings without one
}

// Validate checks the fields the executor depends on.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.MaxFiles < 0 {
		return fmt.Errorf("max_files cannot be negative (got %d)", j.MaxFiles)
	}
	if j.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative (got %v)", j.Timeout)
	}
	if !j.Priority.IsValid() {
		return fmt.Errorf("invalid default priority: %d", j.Priority)
	}
	return nil
}

// DisplayName returns the job name, falling back to the ID.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// Chunk is an ordered slice of a job's files sized to fit provider limits.
// Chunks of one job form a strict total order by Sequence.
type Chunk struct {
	JobID        string   `json:"job_id"`
	Sequence     int      `json:"sequence"` // 0-based
	Total        int      `json:"total"`
	Files        []string `json:"files"`
	SessionToken string   `json:"session_token,omitempty"` // Empty for sequence 0
}

// IsFinal reports whether this is the last chunk of its job.
func (c *Chunk) IsFinal() bool {
	return c.Sequence+1 == c.Total
}

// Label renders the chunk position as "k/n" (1-based).
func (c *Chunk) Label() string {
	return fmt.Sprintf("%d/%d", c.Sequence+1, c.Total)
}

// AttemptOutcome classifies a single provider invocation.
type AttemptOutcome string

const (
	OutcomeSuccess        AttemptOutcome = "success"
	OutcomeTimeout        AttemptOutcome = "timeout"
	OutcomeTransientError AttemptOutcome = "transient_error"
	OutcomeFatalError     AttemptOutcome = "fatal_error"
)

// IsValid checks if the outcome value is valid
func (o AttemptOutcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeTimeout, OutcomeTransientError, OutcomeFatalError:
		return true
	}
	return false
}

// ExecutionAttempt records one invocation of the provider client for one chunk.
type ExecutionAttempt struct {
	ChunkSequence int            `json:"chunk_sequence"`
	AttemptNumber int            `json:"attempt_number"` // 1-based within the chunk
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Outcome       AttemptOutcome `json:"outcome"`
	RawOutput     string         `json:"-"`
	Error         string         `json:"error,omitempty"`
}

// JobStatus is the terminal state of a job.
type JobStatus string

const (
	StatusSuccess JobStatus = "success"
	StatusPartial JobStatus = "partial" // Some records were dropped during parsing
	StatusFailed  JobStatus = "failed"
)

// IsValid checks if the status value is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Completed reports whether the job produced usable output. Completed jobs
// are recorded in the idempotency store.
func (s JobStatus) Completed() bool {
	return s == StatusSuccess || s == StatusPartial
}

// JobResult is produced exactly once per executed job and is immutable
// after the executor returns it.
type JobResult struct {
	JobID        string             `json:"job_id"`
	JobName      string             `json:"job_name"`
	Status       JobStatus          `json:"status"`
	Findings     []Finding          `json:"findings"`
	Warnings     []string           `json:"warnings,omitempty"`
	Error        string             `json:"error,omitempty"`
	AttemptsUsed int                `json:"attempts_used"`
	Attempts     []ExecutionAttempt `json:"attempts,omitempty"`
	ChunksRun    int                `json:"chunks_run"`
	FilesScanned int                `json:"files_scanned"`
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
}

// CountByPriority tallies findings per priority.
func (r *JobResult) CountByPriority() map[Priority]int {
	counts := make(map[Priority]int, len(AllPriorities))
	for _, p := range AllPriorities {
		counts[p] = 0
	}
	for _, f := range r.Findings {
		counts[f.Priority]++
	}
	return counts
}

// IdempotencyRecord marks a job as completed for a calendar date.
type IdempotencyRecord struct {
	JobID         string    `json:"job_id"`
	Date          string    `json:"date"` // YYYY-MM-DD in the store's clock location
	CompletedAt   time.Time `json:"completed_at"`
	FindingsCount int       `json:"findings_count"`
}

// DateLayout is the calendar-date key format for idempotency records.
const DateLayout = "2006-01-02"
