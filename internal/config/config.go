// Package config loads polyrev.yaml: run settings, provider settings,
// named file scopes and the reviewers that run against them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/polyrev/internal/provider"
	"github.com/steveyegge/polyrev/internal/report"
	"github.com/steveyegge/polyrev/internal/retry"
	"github.com/steveyegge/polyrev/internal/storage"
	"github.com/steveyegge/polyrev/internal/types"
)

// EnvConfigPath names the environment variable that overrides the default
// config location.
const EnvConfigPath = "POLYREV_CONFIG"

// DefaultConfigPath is used when neither a flag nor POLYREV_CONFIG is set.
const DefaultConfigPath = "polyrev.yaml"

// Config is the top-level polyrev.yaml document.
type Config struct {
	Version       int    `yaml:"version" validate:"eq=1"`
	Target        string `yaml:"target" validate:"required"`
	Concurrency   int    `yaml:"concurrency" validate:"min=1,max=64"`
	ReportDir     string `yaml:"report_dir" validate:"required"`
	DiffBase      string `yaml:"diff_base"`
	TimeoutSec    int    `yaml:"timeout_sec" validate:"min=1"`
	MaxFiles      int    `yaml:"max_files" validate:"min=0"`
	MaxFileLines  int    `yaml:"max_file_lines" validate:"min=0"` // Zero keeps files of any length
	LaunchDelayMs int    `yaml:"launch_delay_ms" validate:"min=0"`
	LogLevel      string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFile       string `yaml:"log_file"`
	MetricsAddr   string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	Retry     RetryConfig      `yaml:"retry"`
	Providers ProvidersConfig  `yaml:"providers"`
	State     StateConfig      `yaml:"state"`
	S3        *report.S3Config `yaml:"s3"`

	Scopes    map[string]Scope `yaml:"scopes" validate:"dive"`
	Reviewers []Reviewer       `yaml:"reviewers" validate:"dive"`
}

// RetryConfig controls per-chunk retry.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts" validate:"min=1,max=10"`
	BackoffBaseMs int `yaml:"backoff_base_ms" validate:"min=0"`
	MaxBackoffMs  int `yaml:"max_backoff_ms" validate:"min=0"`
}

// ProvidersConfig holds settings per provider kind.
type ProvidersConfig struct {
	ClaudeCLI    ClaudeCLIConfig    `yaml:"claude_cli"`
	CodexCLI     CodexCLIConfig     `yaml:"codex_cli"`
	AnthropicAPI AnthropicAPIConfig `yaml:"anthropic_api"`
}

type ClaudeCLIConfig struct {
	Binary         string   `yaml:"binary" validate:"required"`
	Model          string   `yaml:"model"`
	Tools          []string `yaml:"tools"`
	PermissionMode string   `yaml:"permission_mode"`
	ExtraArgs      []string `yaml:"extra_args"`
}

type CodexCLIConfig struct {
	Binary    string   `yaml:"binary" validate:"required"`
	Model     string   `yaml:"model"`
	ExtraArgs []string `yaml:"extra_args"`
}

type AnthropicAPIConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens" validate:"min=0"`
	APIKeyEnv string `yaml:"api_key_env"` // Default: ANTHROPIC_API_KEY
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
}

// StateConfig selects the idempotency backend.
type StateConfig struct {
	Backend     string `yaml:"backend" validate:"omitempty,oneof=memory sqlite redis postgres"`
	Path        string `yaml:"path"`
	RedisURL    string `yaml:"redis_url" validate:"required_if=Backend redis"`
	RedisTTL    string `yaml:"redis_ttl"` // Go duration, e.g. "48h"
	PostgresURL string `yaml:"postgres_url" validate:"required_if=Backend postgres"`
}

// Scope is a named set of paths filtered by include/exclude patterns.
type Scope struct {
	Paths   []string `yaml:"paths" validate:"required,min=1"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Reviewer is one job template: a prompt run by a provider over scopes.
type Reviewer struct {
	ID              string   `yaml:"id" validate:"required,jobid"`
	Name            string   `yaml:"name"`
	Enabled         *bool    `yaml:"enabled"` // Default: true
	Provider        string   `yaml:"provider" validate:"required,oneof=claude_cli codex_cli anthropic_api"`
	Scopes          []string `yaml:"scopes" validate:"required,min=1"`
	PromptFile      string   `yaml:"prompt_file" validate:"required"`
	PriorityDefault string   `yaml:"priority_default" validate:"omitempty,priority"`
	MaxFiles        *int     `yaml:"max_files" validate:"omitempty,min=0"`
	TimeoutSec      *int     `yaml:"timeout_sec" validate:"omitempty,min=1"`
}

// IsEnabled reports whether the reviewer should run.
func (r *Reviewer) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// DisplayName returns the name, falling back to the id.
func (r *Reviewer) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Priority returns the reviewer's default finding priority (p1 if unset).
func (r *Reviewer) Priority() types.Priority {
	if r.PriorityDefault == "" {
		return types.DefaultPriority
	}
	p, err := types.ParsePriority(r.PriorityDefault)
	if err != nil {
		return types.DefaultPriority
	}
	return p
}

// ConfigError reports a configuration problem. It aborts a run before any
// job is scheduled.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid config: %v", e.Err)
	}
	return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Default returns a config with every default applied and no reviewers.
func Default() *Config {
	return &Config{
		Version:       1,
		Target:        ".",
		Concurrency:   6,
		ReportDir:     "reports",
		TimeoutSec:    300,
		MaxFiles:      50,
		LaunchDelayMs: 500,
		LogLevel:      "info",
		Retry: RetryConfig{
			MaxAttempts:   3,
			BackoffBaseMs: 1000,
			MaxBackoffMs:  60000,
		},
		Providers: ProvidersConfig{
			ClaudeCLI: ClaudeCLIConfig{
				Binary:         defaultClaudeBinary(),
				Tools:          []string{"Read", "Grep", "Glob"},
				PermissionMode: "acceptEdits",
			},
			CodexCLI: CodexCLIConfig{
				Binary: "codex",
				Model:  "gpt-4.1",
			},
			AnthropicAPI: AnthropicAPIConfig{
				Model:     "claude-sonnet-4-5-20250929",
				MaxTokens: 8192,
				APIKeyEnv: "ANTHROPIC_API_KEY",
			},
		},
		State: StateConfig{
			Backend:  storage.BackendSQLite,
			Path:     ".polyrev/state.db",
			RedisTTL: "48h",
		},
		Scopes: map[string]Scope{},
	}
}

// defaultClaudeBinary prefers the per-user install location.
func defaultClaudeBinary() string {
	if home, err := os.UserHomeDir(); err == nil {
		local := filepath.Join(home, ".claude", "local", "claude")
		if info, err := os.Stat(local); err == nil && !info.IsDir() {
			return local
		}
	}
	return "claude"
}

// ResolvePath picks the config file: an explicit flag value, then
// $POLYREV_CONFIG, then polyrev.yaml.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load reads and validates a config file. Values absent from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse decodes and validates YAML config data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parsing yaml: %w", err)}
	}
	if cfg.Scopes == nil {
		cfg.Scopes = map[string]Scope{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnabledReviewers returns reviewers in file order, skipping disabled ones.
func (c *Config) EnabledReviewers() []Reviewer {
	var out []Reviewer
	for _, r := range c.Reviewers {
		if r.IsEnabled() {
			out = append(out, r)
		}
	}
	return out
}

// Reviewer looks up a reviewer by id.
func (c *Config) Reviewer(id string) (*Reviewer, bool) {
	for i := range c.Reviewers {
		if c.Reviewers[i].ID == id {
			return &c.Reviewers[i], true
		}
	}
	return nil, false
}

// Timeout returns the default per-chunk timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// LaunchDelay returns the gap between job launches.
func (c *Config) LaunchDelay() time.Duration {
	return time.Duration(c.LaunchDelayMs) * time.Millisecond
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BackoffBase: time.Duration(c.Retry.BackoffBaseMs) * time.Millisecond,
		MaxBackoff:  time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond,
		Jitter:      0.1,
	}
}

// StorageConfig converts the state section. Validate has already checked
// the TTL.
func (c *Config) StorageConfig() *storage.Config {
	ttl, _ := time.ParseDuration(c.State.RedisTTL)
	return &storage.Config{
		Backend:     c.State.Backend,
		Path:        c.State.Path,
		RedisURL:    c.State.RedisURL,
		RedisTTL:    ttl,
		PostgresURL: c.State.PostgresURL,
	}
}

// ClaudeConfig converts the claude_cli section.
func (c *Config) ClaudeConfig() provider.ClaudeConfig {
	p := c.Providers.ClaudeCLI
	return provider.ClaudeConfig{
		Binary:         p.Binary,
		Model:          p.Model,
		Tools:          p.Tools,
		PermissionMode: p.PermissionMode,
		WorkingDir:     c.Target,
		ExtraArgs:      p.ExtraArgs,
	}
}

// CodexConfig converts the codex_cli section.
func (c *Config) CodexConfig() provider.CodexConfig {
	p := c.Providers.CodexCLI
	return provider.CodexConfig{
		Binary:     p.Binary,
		Model:      p.Model,
		WorkingDir: c.Target,
		ExtraArgs:  p.ExtraArgs,
	}
}

// AnthropicConfig converts the anthropic_api section, reading the key from
// the configured environment variable.
func (c *Config) AnthropicConfig() provider.AnthropicConfig {
	p := c.Providers.AnthropicAPI
	env := p.APIKeyEnv
	if env == "" {
		env = "ANTHROPIC_API_KEY"
	}
	return provider.AnthropicConfig{
		APIKey:     os.Getenv(env),
		Model:      p.Model,
		MaxTokens:  p.MaxTokens,
		WorkingDir: c.Target,
		BaseURL:    p.BaseURL,
	}
}

// UsedProviders returns the distinct providers enabled reviewers need.
func (c *Config) UsedProviders() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range c.EnabledReviewers() {
		if !seen[r.Provider] {
			seen[r.Provider] = true
			out = append(out, r.Provider)
		}
	}
	return out
}
