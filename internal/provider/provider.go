// Package provider executes one chunk against an external reviewer and
// returns its raw output plus the session token for the next chunk.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Provider names accepted in configuration.
const (
	NameClaudeCLI    = "claude_cli"
	NameCodexCLI     = "codex_cli"
	NameAnthropicAPI = "anthropic_api"
)

// Request is one chunk invocation.
type Request struct {
	JobID        string
	PromptRef    string // Where Prompt was loaded from, for logging
	Prompt       string // Fully rendered chunk prompt, file list included
	Files        []string
	SessionToken string // Empty for the first chunk
	Timeout      time.Duration
	Sequence     int // 0-based chunk index
	TotalChunks  int
}

// Response is a successful invocation.
type Response struct {
	RawOutput    string
	SessionToken string // Token to pass to the next chunk; may be empty for single-chunk jobs
	Stderr       string
	ExitCode     int
	Duration     time.Duration
}

// Client invokes an external reviewer. Implementations must enforce
// req.Timeout and report it as a KindTimeout error.
type Client interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// SessionCloser is implemented by clients that keep per-session state in
// process. The executor calls CloseSession with the last token once a job
// ends, whether it succeeded or not.
type SessionCloser interface {
	CloseSession(token string)
}

// Registry resolves provider names to clients.
type Registry map[string]Client

// Get returns the client registered under name.
func (r Registry) Get(name string) (Client, error) {
	if c, ok := r[name]; ok {
		return c, nil
	}
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, &Error{
		Provider: name,
		Kind:     KindFatal,
		Err:      fmt.Errorf("unknown provider %q (registered: %s)", name, strings.Join(names, ", ")),
	}
}

// Register adds c under its own name.
func (r Registry) Register(c Client) {
	r[c.Name()] = c
}
