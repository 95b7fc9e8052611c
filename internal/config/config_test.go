package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/polyrev/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
scopes:
  backend:
    paths: [src]
    include: ["**/*.go"]
    exclude: ["**/*_test.go"]
reviewers:
  - id: security
    name: Security
    provider: claude_cli
    scopes: [backend]
    prompt_file: prompts/security.md
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Concurrency)
	assert.Equal(t, 300*time.Second, cfg.Timeout())
	assert.Equal(t, 50, cfg.MaxFiles)
	assert.Equal(t, 500*time.Millisecond, cfg.LaunchDelay())
	assert.Equal(t, "reports", cfg.ReportDir)
	assert.Equal(t, ".", cfg.Target)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.BackoffBase)
	require.NoError(t, policy.Validate())

	assert.Equal(t, []string{"Read", "Grep", "Glob"}, cfg.Providers.ClaudeCLI.Tools)
	assert.Equal(t, "acceptEdits", cfg.Providers.ClaudeCLI.PermissionMode)
	assert.Equal(t, "gpt-4.1", cfg.Providers.CodexCLI.Model)
	assert.Equal(t, "sqlite", cfg.State.Backend)

	require.Len(t, cfg.Reviewers, 1)
	r := cfg.Reviewers[0]
	assert.True(t, r.IsEnabled())
	assert.Equal(t, types.P1, r.Priority())
	assert.Equal(t, []string{"claude_cli"}, cfg.UsedProviders())
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
target: ./app
concurrency: 2
timeout_sec: 60
max_files: 10
launch_delay_ms: 0
retry:
  max_attempts: 5
  backoff_base_ms: 250
state:
  backend: redis
  redis_url: redis://localhost:6379/0
  redis_ttl: 72h
providers:
  codex_cli:
    model: o3
scopes:
  all:
    paths: ["."]
reviewers:
  - id: perf
    provider: codex_cli
    scopes: [all]
    prompt_file: prompts/perf.md
    priority_default: low
    max_files: 5
    timeout_sec: 900
  - id: style
    enabled: false
    provider: anthropic_api
    scopes: [all]
    prompt_file: prompts/style.md
`))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Zero(t, cfg.LaunchDelay())
	assert.Equal(t, 250*time.Millisecond, cfg.RetryPolicy().BackoffBase)
	assert.Equal(t, "codex", cfg.Providers.CodexCLI.Binary, "unset fields keep defaults")
	assert.Equal(t, "o3", cfg.CodexConfig().Model)
	assert.Equal(t, "./app", cfg.CodexConfig().WorkingDir)

	sc := cfg.StorageConfig()
	assert.Equal(t, "redis", sc.Backend)
	assert.Equal(t, 72*time.Hour, sc.RedisTTL)

	enabled := cfg.EnabledReviewers()
	require.Len(t, enabled, 1)
	assert.Equal(t, "perf", enabled[0].ID)
	assert.Equal(t, types.P2, enabled[0].Priority())
	assert.Equal(t, 5, *enabled[0].MaxFiles)
	assert.Equal(t, []string{"codex_cli"}, cfg.UsedProviders())

	r, ok := cfg.Reviewer("style")
	require.True(t, ok)
	assert.False(t, r.IsEnabled())
	assert.Equal(t, "style", r.DisplayName())
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown scope",
			yaml: strings.Replace(minimalYAML, "scopes: [backend]", "scopes: [frontend]", 1),
			want: `unknown scope "frontend"`,
		},
		{
			name: "no reviewers",
			yaml: "scopes: {}\n",
			want: "no reviewers enabled",
		},
		{
			name: "bad provider",
			yaml: strings.Replace(minimalYAML, "provider: claude_cli", "provider: gemini", 1),
			want: "reviewers[0].provider must be one of",
		},
		{
			name: "missing prompt",
			yaml: strings.Replace(minimalYAML, "    prompt_file: prompts/security.md\n", "", 1),
			want: "reviewers[0].prompt_file is required",
		},
		{
			name: "zero concurrency",
			yaml: "concurrency: 0\n" + minimalYAML,
			want: "concurrency must be min 1",
		},
		{
			name: "unsafe id",
			yaml: strings.Replace(minimalYAML, "id: security", "id: ../etc", 1),
			want: "may only contain",
		},
		{
			name: "bad priority",
			yaml: strings.Replace(minimalYAML, "name: Security", "name: Security\n    priority_default: urgent", 1),
			want: "is not a priority",
		},
		{
			name: "redis without url",
			yaml: "state:\n  backend: redis\n" + minimalYAML,
			want: "state.redis_url is required",
		},
		{
			name: "bad ttl",
			yaml: "state:\n  redis_ttl: forever\n" + minimalYAML,
			want: "state.redis_ttl",
		},
		{
			name: "duplicate id",
			yaml: minimalYAML + `  - id: security
    provider: codex_cli
    scopes: [backend]
    prompt_file: p.md
`,
			want: `duplicate reviewer id "security"`,
		},
		{
			name: "invalid yaml",
			yaml: "reviewers: [",
			want: "parsing yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var ce *ConfigError
			assert.True(t, errors.As(err, &ce), "expected ConfigError, got %T", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polyrev.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Reviewers, 1)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Path, "missing.yaml")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("scopes: {}\n"), 0o644))
	_, err = Load(bad)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, bad, ce.Path)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultConfigPath, ResolvePath(""))

	t.Setenv(EnvConfigPath, "/etc/polyrev.yaml")
	assert.Equal(t, "/etc/polyrev.yaml", ResolvePath(""))
	assert.Equal(t, "custom.yaml", ResolvePath("custom.yaml"))
}

func TestAnthropicConfigReadsKeyFromEnv(t *testing.T) {
	t.Setenv("REVIEW_KEY", "sk-test")
	cfg := Default()
	cfg.Providers.AnthropicAPI.APIKeyEnv = "REVIEW_KEY"

	assert.Equal(t, "sk-test", cfg.AnthropicConfig().APIKey)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job finished", "job", "security")

	assert.Contains(t, stderr.String(), "job finished")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, file.String(), `"job":"security"`)
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "polyrev.jsonl")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
