package report

import (
	"time"

	"github.com/steveyegge/polyrev/internal/orchestrator"
	"github.com/steveyegge/polyrev/internal/types"
)

// Exit codes returned by the CLI.
const (
	ExitOK         = 0
	ExitCritical   = 1 // At least one p0 finding and FailOnCritical is set
	ExitJobFailure = 2 // At least one job failed and AllowFailures is not set
)

// ExitPolicy decides the process exit status for a run.
type ExitPolicy struct {
	FailOnCritical bool
	AllowFailures  bool
}

// Code returns the exit code for a run. Job failures take precedence over
// critical findings.
func (p ExitPolicy) Code(r *orchestrator.Report) int {
	if !p.AllowFailures && len(r.Failed()) > 0 {
		return ExitJobFailure
	}
	if p.FailOnCritical && r.HasCritical() {
		return ExitCritical
	}
	return ExitOK
}

// Summary is the run-level report written as summary.json and summary.md.
type Summary struct {
	Timestamp   time.Time      `json:"timestamp"`
	Target      string         `json:"target,omitempty"`
	ReportDir   string         `json:"report_dir"`
	DurationSec float64        `json:"duration_sec"`
	Jobs        []JobSummary   `json:"reviewers"`
	Totals      map[string]int `json:"totals"`
	Skipped     []string       `json:"skipped"`
	Failed      []string       `json:"failed"`
	NotStarted  []string       `json:"not_started,omitempty"`
	ExitCode    int            `json:"exit_code"`
}

// JobSummary is one row of the summary.
type JobSummary struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	DurationSec  float64        `json:"duration_sec"`
	FilesScanned int            `json:"files_scanned"`
	Findings     map[string]int `json:"findings"`
	Warnings     int            `json:"warnings,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// BuildSummary aggregates a finished run. Skipped jobs appear as rows with
// status "skipped" after the executed jobs.
func BuildSummary(r *orchestrator.Report, target, reportDir string, policy ExitPolicy, now time.Time) *Summary {
	s := &Summary{
		Timestamp:   now,
		Target:      target,
		ReportDir:   reportDir,
		DurationSec: r.Duration.Seconds(),
		Totals:      priorityCounts(r.CountByPriority()),
		Skipped:     append([]string{}, r.Skipped...),
		Failed:      append([]string{}, r.Failed()...),
		NotStarted:  r.NotStarted,
		ExitCode:    policy.Code(r),
	}
	for _, res := range r.Results {
		row := JobSummary{
			ID:           res.JobID,
			Name:         res.JobName,
			Status:       string(res.Status),
			DurationSec:  res.Duration.Seconds(),
			FilesScanned: res.FilesScanned,
			Findings:     priorityCounts(res.CountByPriority()),
			Warnings:     len(res.Warnings),
		}
		if res.Status == types.StatusFailed {
			row.Reason = firstLine(res.Error)
		}
		if row.Name == "" {
			row.Name = row.ID
		}
		s.Jobs = append(s.Jobs, row)
	}
	for _, id := range r.Skipped {
		s.Jobs = append(s.Jobs, JobSummary{
			ID:       id,
			Name:     id,
			Status:   "skipped",
			Findings: priorityCounts(nil),
			Reason:   "already ran today",
		})
	}
	return s
}

func priorityCounts(counts map[types.Priority]int) map[string]int {
	out := make(map[string]int, len(types.AllPriorities))
	for _, p := range types.AllPriorities {
		out[p.String()] = counts[p]
	}
	return out
}
