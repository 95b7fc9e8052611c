package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/steveyegge/polyrev/internal/executor"
	"github.com/steveyegge/polyrev/internal/orchestrator"
	"github.com/steveyegge/polyrev/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ orchestrator.Hooks = (*Metrics)(nil)
	_ executor.Observer  = (*Metrics)(nil)
)

func TestJobLifecycle(t *testing.T) {
	m := New()

	m.JobSkipped("style")
	m.JobStarted("security")
	m.JobStarted("perf")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsInFlight))

	running := m.Running()
	require.Len(t, running, 2)

	m.JobFinished(&types.JobResult{
		JobID:    "security",
		Status:   types.StatusPartial,
		Duration: 30 * time.Second,
		Warnings: []string{"w1", "w2"},
		Findings: []types.Finding{{Priority: types.P0}, {Priority: types.P0}, {Priority: types.P2}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FindingsTotal.WithLabelValues("p0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FindingsTotal.WithLabelValues("p2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ParseWarnings))

	running = m.Running()
	require.Len(t, running, 1)
	assert.Equal(t, "perf", running[0].JobID)
}

func TestAttemptFinished(t *testing.T) {
	m := New()
	m.AttemptFinished("security", types.OutcomeTimeout, time.Minute)
	m.AttemptFinished("security", types.OutcomeSuccess, time.Second)
	m.AttemptFinished("perf", types.OutcomeSuccess, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AttemptDuration))
}

func TestRouter(t *testing.T) {
	m := New()
	m.JobStarted("security")
	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "polyrev_jobs_in_flight 1")

	resp2, err := http.Get(srv.URL + "/jobs/running")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var running []RunningJob
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&running))
	require.Len(t, running, 1)
	assert.Equal(t, "security", running[0].JobID)
}

func TestServe_StopsOnCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
