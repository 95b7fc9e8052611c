package orchestrator

import (
	"time"

	"github.com/steveyegge/polyrev/internal/types"
)

// Report aggregates one run. Results are in completion order.
type Report struct {
	Results    []*types.JobResult
	Skipped    []string // Already ran today
	NotStarted []string // Never launched because the run was cancelled
	Duration   time.Duration
}

// CountByStatus tallies results per status.
func (r *Report) CountByStatus() map[types.JobStatus]int {
	counts := map[types.JobStatus]int{
		types.StatusSuccess: 0,
		types.StatusPartial: 0,
		types.StatusFailed:  0,
	}
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// CountByPriority tallies findings across all results.
func (r *Report) CountByPriority() map[types.Priority]int {
	counts := make(map[types.Priority]int, len(types.AllPriorities))
	for _, p := range types.AllPriorities {
		counts[p] = 0
	}
	for _, res := range r.Results {
		for p, n := range res.CountByPriority() {
			counts[p] += n
		}
	}
	return counts
}

// TotalFindings returns the number of findings across all results.
func (r *Report) TotalFindings() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Findings)
	}
	return n
}

// Failed returns the ids of failed jobs.
func (r *Report) Failed() []string {
	var ids []string
	for _, res := range r.Results {
		if res.Status == types.StatusFailed {
			ids = append(ids, res.JobID)
		}
	}
	return ids
}

// HasCritical reports whether any job produced a P0 finding.
func (r *Report) HasCritical() bool {
	return r.CountByPriority()[types.P0] > 0
}
