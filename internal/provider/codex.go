package provider

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// CodexConfig configures the codex CLI provider.
type CodexConfig struct {
	Binary     string // Default: "codex"
	Model      string // Default: "gpt-4.1"
	WorkingDir string
	ExtraArgs  []string
}

// CodexCLI runs reviews through `codex exec`. The first chunk reports a
// thread id in its JSONL event stream; later chunks use `exec resume`.
type CodexCLI struct {
	cfg     CodexConfig
	runFunc func(context.Context, command) (*processResult, error)
}

// NewCodexCLI creates a codex CLI provider.
func NewCodexCLI(cfg CodexConfig) *CodexCLI {
	if cfg.Binary == "" {
		cfg.Binary = "codex"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	return &CodexCLI{cfg: cfg, runFunc: run}
}

func (c *CodexCLI) Name() string { return NameCodexCLI }

// Invoke runs one chunk. The prompt is written to stdin.
func (c *CodexCLI) Invoke(ctx context.Context, req Request) (*Response, error) {
	resume := req.SessionToken != ""

	var args []string
	var lastMessagePath string
	if resume {
		// resume does not accept --model/--json
		args = []string{"exec", "resume", req.SessionToken}
	} else {
		tmp, err := os.CreateTemp("", "polyrev-codex-*.txt")
		if err != nil {
			return nil, &Error{Provider: NameCodexCLI, Kind: KindSpawn, Err: fmt.Errorf("failed to create output file: %w", err)}
		}
		lastMessagePath = tmp.Name()
		tmp.Close()
		defer os.Remove(lastMessagePath)

		args = []string{"exec", "--model", c.cfg.Model, "--json", "--output-last-message", lastMessagePath}
	}
	args = append(args, c.cfg.ExtraArgs...)
	args = append(args, "-")

	slog.Debug("Invoking codex",
		"job", req.JobID,
		"chunk", fmt.Sprintf("%d/%d", req.Sequence+1, req.TotalChunks),
		"resume", resume,
		"files", len(req.Files))

	res, err := c.runFunc(ctx, command{
		provider: NameCodexCLI,
		binary:   c.cfg.Binary,
		args:     args,
		dir:      c.cfg.WorkingDir,
		stdin:    req.Prompt,
		timeout:  req.Timeout,
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Stderr:   res.stderr,
		ExitCode: res.exitCode,
		Duration: res.duration,
	}
	if resume {
		resp.RawOutput = res.stdout
		resp.SessionToken = req.SessionToken
		return resp, nil
	}

	resp.SessionToken = threadID(res.stdout)
	if data, err := os.ReadFile(lastMessagePath); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		resp.RawOutput = string(data)
	} else {
		resp.RawOutput = res.stdout
	}
	return resp, nil
}

// threadID returns the last thread_id reported in a JSONL event stream.
func threadID(jsonl string) string {
	var id string
	scanner := bufio.NewScanner(strings.NewReader(jsonl))
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		if tid := gjson.Get(line, "thread_id"); tid.Type == gjson.String && tid.String() != "" {
			id = tid.String()
		}
	}
	return id
}
