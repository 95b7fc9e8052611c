// Package metrics exposes Prometheus instrumentation for review runs and an
// HTTP endpoint serving it.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/steveyegge/polyrev/internal/types"
)

// Metrics implements orchestrator.Hooks and executor.Observer.
type Metrics struct {
	reg *prometheus.Registry

	JobsStarted     prometheus.Counter
	JobsSkipped     prometheus.Counter
	JobsFinished    *prometheus.CounterVec
	JobsInFlight    prometheus.Gauge
	JobDuration     prometheus.Histogram
	FindingsTotal   *prometheus.CounterVec
	ParseWarnings   prometheus.Counter
	Attempts        *prometheus.CounterVec
	AttemptDuration prometheus.Histogram

	mu       sync.Mutex
	inFlight map[string]time.Time
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg:      prometheus.NewRegistry(),
		inFlight: make(map[string]time.Time),

		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyrev_jobs_started_total", Help: "Jobs launched"}),
		JobsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyrev_jobs_skipped_total", Help: "Jobs skipped because they already ran today"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyrev_jobs_finished_total", Help: "Jobs finished by status"}, []string{"status"}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polyrev_jobs_in_flight", Help: "Jobs currently holding a permit"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyrev_job_duration_seconds",
			Help:    "Wall time per job",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyrev_findings_total", Help: "Findings reported by priority"}, []string{"priority"}),
		ParseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyrev_parse_warnings_total", Help: "Warnings attached to job results"}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyrev_provider_attempts_total", Help: "Provider invocations by outcome"}, []string{"outcome"}),
		AttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyrev_provider_attempt_duration_seconds",
			Help:    "Wall time per provider invocation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		}),
	}
	m.reg.MustRegister(
		m.JobsStarted,
		m.JobsSkipped,
		m.JobsFinished,
		m.JobsInFlight,
		m.JobDuration,
		m.FindingsTotal,
		m.ParseWarnings,
		m.Attempts,
		m.AttemptDuration,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) JobSkipped(string) {
	m.JobsSkipped.Inc()
}

func (m *Metrics) JobStarted(jobID string) {
	m.JobsStarted.Inc()
	m.JobsInFlight.Inc()
	m.mu.Lock()
	m.inFlight[jobID] = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) JobFinished(result *types.JobResult) {
	m.JobsInFlight.Dec()
	m.mu.Lock()
	delete(m.inFlight, result.JobID)
	m.mu.Unlock()

	m.JobsFinished.WithLabelValues(string(result.Status)).Inc()
	m.JobDuration.Observe(result.Duration.Seconds())
	m.ParseWarnings.Add(float64(len(result.Warnings)))
	for p, n := range result.CountByPriority() {
		if n > 0 {
			m.FindingsTotal.WithLabelValues(p.String()).Add(float64(n))
		}
	}
}

func (m *Metrics) AttemptFinished(_ string, outcome types.AttemptOutcome, d time.Duration) {
	m.Attempts.WithLabelValues(string(outcome)).Inc()
	m.AttemptDuration.Observe(d.Seconds())
}

// RunningJob is one entry of the in-flight listing.
type RunningJob struct {
	JobID     string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
}

// Running lists jobs holding a permit, oldest first.
func (m *Metrics) Running() []RunningJob {
	m.mu.Lock()
	out := make([]RunningJob, 0, len(m.inFlight))
	for id, at := range m.inFlight {
		out = append(out, RunningJob{JobID: id, StartedAt: at})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
