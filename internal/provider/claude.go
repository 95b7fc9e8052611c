package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ClaudeConfig configures the claude CLI provider.
type ClaudeConfig struct {
	Binary         string   // Default: "claude"
	Model          string   // Default: "sonnet"
	Tools          []string // --allowedTools
	PermissionMode string   // Default: "acceptEdits"
	WorkingDir     string
	ExtraArgs      []string
	KeepAPIKey     bool // Pass ANTHROPIC_API_KEY through to the CLI
}

// ClaudeCLI runs reviews through `claude -p` with JSON output.
//
// Multi-chunk jobs pin a session with --session-id on the first chunk and
// continue it with --resume on later chunks.
type ClaudeCLI struct {
	cfg     ClaudeConfig
	newUUID func() string
	runFunc func(context.Context, command) (*processResult, error)
}

// NewClaudeCLI creates a claude CLI provider.
func NewClaudeCLI(cfg ClaudeConfig) *ClaudeCLI {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Model == "" {
		cfg.Model = "sonnet"
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = "acceptEdits"
	}
	if len(cfg.Tools) == 0 {
		cfg.Tools = []string{"Read", "Grep", "Glob"}
	}
	return &ClaudeCLI{cfg: cfg, newUUID: uuid.NewString, runFunc: run}
}

func (c *ClaudeCLI) Name() string { return NameClaudeCLI }

// Invoke runs one chunk.
func (c *ClaudeCLI) Invoke(ctx context.Context, req Request) (*Response, error) {
	token := req.SessionToken
	var args []string
	switch {
	case token != "":
		args = append(args, "--resume", token)
	case req.TotalChunks > 1:
		token = c.newUUID()
		args = append(args, "--session-id", token)
	}
	args = append(args,
		"-p", req.Prompt,
		"--model", c.cfg.Model,
		"--output-format", "json",
		"--allowedTools", strings.Join(c.cfg.Tools, ","),
		"--permission-mode", c.cfg.PermissionMode,
	)
	args = append(args, c.cfg.ExtraArgs...)

	var env []string
	if !c.cfg.KeepAPIKey {
		// Use subscription auth rather than a stray API key.
		env = environWithout("ANTHROPIC_API_KEY")
	}

	slog.Debug("Invoking claude",
		"job", req.JobID,
		"chunk", fmt.Sprintf("%d/%d", req.Sequence+1, req.TotalChunks),
		"resume", req.SessionToken != "",
		"files", len(req.Files))

	res, err := c.runFunc(ctx, command{
		provider: NameClaudeCLI,
		binary:   c.cfg.Binary,
		args:     args,
		dir:      c.cfg.WorkingDir,
		env:      env,
		timeout:  req.Timeout,
	})
	if err != nil {
		return nil, err
	}

	out, sessionID, isError := unwrapClaudeEnvelope(res.stdout)
	if isError {
		return nil, &Error{Provider: NameClaudeCLI, Kind: KindExit, ExitCode: res.exitCode, Stderr: out + "\n" + res.stderr}
	}
	if sessionID != "" && (token != "" || req.TotalChunks > 1) {
		token = sessionID
	}

	return &Response{
		RawOutput:    out,
		SessionToken: token,
		Stderr:       res.stderr,
		ExitCode:     res.exitCode,
		Duration:     res.duration,
	}, nil
}

// unwrapClaudeEnvelope extracts the result text from claude's
// --output-format json envelope. Non-envelope output is returned as-is.
func unwrapClaudeEnvelope(stdout string) (result, sessionID string, isError bool) {
	trimmed := strings.TrimSpace(stdout)
	if !gjson.Valid(trimmed) {
		return stdout, "", false
	}
	env := gjson.Parse(trimmed)
	res := env.Get("result")
	if !env.IsObject() || res.Type != gjson.String {
		return stdout, "", false
	}
	return res.String(), env.Get("session_id").String(), env.Get("is_error").Bool()
}
