package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Step is one scripted Fake response.
type Step struct {
	Output string
	Token  string // Session token to return; empty echoes the request token
	Err    error
	Delay  time.Duration
}

// Fake is a scripted Client for tests. Steps are consumed per job in
// invocation order; when a job's script runs out, the default step is used.
type Fake struct {
	name string

	mu          sync.Mutex
	scripts     map[string][]Step
	defaultStep Step
	calls       []Request
	active      int
	maxActive   int
}

// NewFake creates a fake provider registered under name.
func NewFake(name string) *Fake {
	return &Fake{name: name, scripts: make(map[string][]Step)}
}

func (f *Fake) Name() string { return f.name }

// Script appends steps for a job.
func (f *Fake) Script(jobID string, steps ...Step) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[jobID] = append(f.scripts[jobID], steps...)
	return f
}

// SetDefault sets the step used once a job's script is exhausted.
func (f *Fake) SetDefault(step Step) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultStep = step
	return f
}

// Invoke implements Client.
func (f *Fake) Invoke(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	step := f.defaultStep
	if queue := f.scripts[req.JobID]; len(queue) > 0 {
		step = queue[0]
		f.scripts[req.JobID] = queue[1:]
	}
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, &Error{Provider: f.name, Kind: KindFatal, Err: ctx.Err()}
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	token := step.Token
	if token == "" {
		token = req.SessionToken
	}
	if token == "" && req.TotalChunks > 1 {
		token = fmt.Sprintf("%s-session", req.JobID)
	}
	return &Response{RawOutput: step.Output, SessionToken: token, Duration: step.Delay}, nil
}

// Calls returns every request received, in order.
func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the requests received for one job.
func (f *Fake) CallsFor(jobID string) []Request {
	var out []Request
	for _, c := range f.Calls() {
		if c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrent returns the highest number of simultaneous invocations seen.
func (f *Fake) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}
