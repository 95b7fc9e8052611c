package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

// AnthropicConfig configures the direct API provider.
type AnthropicConfig struct {
	APIKey       string // Default: $ANTHROPIC_API_KEY
	Model        string // Default: "claude-sonnet-4-5-20250929"
	MaxTokens    int64  // Default: 8192
	WorkingDir   string // Files are read relative to this directory
	MaxFileBytes int    // Per-file content cap (default: 100KB)
	BaseURL      string // Override for testing
}

// AnthropicAPI reviews through the Messages API. There are no tools, so
// file contents are inlined into the prompt. Session tokens key an
// in-memory conversation so later chunks see earlier ones.
type AnthropicAPI struct {
	cfg    AnthropicConfig
	client anthropic.Client

	mu            sync.Mutex
	conversations map[string][]anthropic.MessageParam
}

// NewAnthropicAPI creates a direct API provider.
func NewAnthropicAPI(cfg AnthropicConfig) (*AnthropicAPI, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 100 * 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicAPI{
		cfg:           cfg,
		client:        anthropic.NewClient(opts...),
		conversations: make(map[string][]anthropic.MessageParam),
	}, nil
}

func (a *AnthropicAPI) Name() string { return NameAnthropicAPI }

// Invoke sends one chunk as a user turn.
func (a *AnthropicAPI) Invoke(ctx context.Context, req Request) (*Response, error) {
	token := req.SessionToken
	history := a.history(token)
	if token == "" && req.TotalChunks > 1 {
		token = uuid.NewString()
	}

	content := req.Prompt + "\n\n" + a.fileContents(req.Files)
	messages := append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: a.cfg.MaxTokens,
		Messages:  messages,
	})
	if err != nil {
		return nil, a.classify(ctx, callCtx, req.Timeout, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if token != "" {
		a.mu.Lock()
		a.conversations[token] = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text.String())))
		if req.Sequence+1 >= req.TotalChunks {
			delete(a.conversations, token)
		}
		a.mu.Unlock()
	}

	slog.Debug("Anthropic API chunk complete",
		"job", req.JobID,
		"chunk", fmt.Sprintf("%d/%d", req.Sequence+1, req.TotalChunks),
		"inputTokens", msg.Usage.InputTokens,
		"outputTokens", msg.Usage.OutputTokens)

	return &Response{
		RawOutput:    text.String(),
		SessionToken: token,
		Duration:     time.Since(start),
	}, nil
}

// CloseSession drops the conversation kept for token.
func (a *AnthropicAPI) CloseSession(token string) {
	a.mu.Lock()
	delete(a.conversations, token)
	a.mu.Unlock()
}

func (a *AnthropicAPI) history(token string) []anthropic.MessageParam {
	if token == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.conversations[token]
	out := make([]anthropic.MessageParam, len(prev))
	copy(out, prev)
	return out
}

func (a *AnthropicAPI) fileContents(files []string) string {
	var b strings.Builder
	b.WriteString("## Files to Review\n")
	for _, f := range files {
		path := f
		if !filepath.IsAbs(path) && a.cfg.WorkingDir != "" {
			path = filepath.Join(a.cfg.WorkingDir, f)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&b, "\n### %s\n(unreadable: %v)\n", f, err)
			continue
		}
		if len(data) > a.cfg.MaxFileBytes {
			data = append(data[:a.cfg.MaxFileBytes:a.cfg.MaxFileBytes], []byte("\n[... truncated ...]")...)
		}
		fmt.Fprintf(&b, "\n### %s\n```\n%s\n```\n", f, data)
	}
	return b.String()
}

func (a *AnthropicAPI) classify(parent, call context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return &Error{Provider: NameAnthropicAPI, Kind: KindFatal, Err: parent.Err()}
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return &Error{Provider: NameAnthropicAPI, Kind: KindTimeout, Timeout: timeout.String(), Err: context.DeadlineExceeded}
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := KindFatal
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			kind = KindExit
		}
		return &Error{Provider: NameAnthropicAPI, Kind: kind, ExitCode: apiErr.StatusCode, Err: err}
	}
	return &Error{Provider: NameAnthropicAPI, Kind: KindSpawn, Err: err}
}
