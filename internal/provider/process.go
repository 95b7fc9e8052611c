package provider

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// maxOutputBytes caps captured stdout/stderr per invocation.
	maxOutputBytes = 16 * 1024 * 1024

	// waitDelay bounds how long we wait for pipes to drain after a kill.
	waitDelay = 5 * time.Second
)

// command describes one subprocess invocation.
type command struct {
	provider string
	binary   string
	args     []string
	dir      string
	stdin    string
	env      []string // nil inherits the current environment
	timeout  time.Duration
}

type processResult struct {
	stdout   string
	stderr   string
	exitCode int
	duration time.Duration
}

// run executes the command, enforcing the timeout and classifying failures.
func run(ctx context.Context, c command) (*processResult, error) {
	runCtx := ctx
	cancel := func() {}
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary, c.args...)
	cmd.Dir = c.dir
	cmd.WaitDelay = waitDelay
	if c.env != nil {
		cmd.Env = c.env
	}
	if c.stdin != "" {
		cmd.Stdin = strings.NewReader(c.stdin)
	}

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		// A missing binary path or working directory will not appear on retry.
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Provider: c.provider, Kind: KindFatal, Err: err}
		}
		return nil, &Error{Provider: c.provider, Kind: KindSpawn, Err: err}
	}
	err := cmd.Wait()

	res := &processResult{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		exitCode: cmd.ProcessState.ExitCode(),
		duration: time.Since(start),
	}

	// Parent cancellation wins over the per-chunk deadline.
	if ctx.Err() != nil {
		return res, &Error{Provider: c.provider, Kind: KindFatal, Stderr: res.stderr, Err: ctx.Err()}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, &Error{
			Provider: c.provider,
			Kind:     KindTimeout,
			Timeout:  c.timeout.String(),
			Stderr:   res.stderr,
			Err:      context.DeadlineExceeded,
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &Error{Provider: c.provider, Kind: KindExit, ExitCode: exitErr.ExitCode(), Stderr: res.stderr}
		}
		return res, &Error{Provider: c.provider, Kind: KindSpawn, Stderr: res.stderr, Err: err}
	}
	return res, nil
}

// environWithout returns the current environment minus the named variables.
func environWithout(names ...string) []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
outer:
	for _, kv := range env {
		for _, name := range names {
			if strings.HasPrefix(kv, name+"=") {
				continue outer
			}
		}
		out = append(out, kv)
	}
	return out
}

// cappedBuffer is an io.Writer that keeps at most limit bytes and marks
// truncation once.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room <= 0 {
		if !b.truncated {
			b.truncated = true
			b.buf.WriteString("\n[... output truncated: limit reached ...]")
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
