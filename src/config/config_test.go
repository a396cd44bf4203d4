package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AI_PROVIDER", "AI_MODEL", "AI_API_KEY", "AI_BASE_URL", "AI_MAX_TOKENS",
		"AI_TIMEOUT", "AI_PROMPT", "DESCRIBE_EMPTY_RESPONSES",
		"MAX_IMAGE_SIZE_MB", "MAX_IMAGE_DIMENSION", "HIGH_RISK_DIMENSION_THRESHOLD",
		"MAX_IMAGE_PIXELS", "IMAGE_CACHE_SIZE", "IMAGE_CACHE_TTL", "IMAGE_WORKERS",
		"HISTORY_SIZE", "LOG_LEVEL", "LOG_FORMAT", "OLLAMA_HOST",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "ANTHROPIC_API_KEY", "OLLAMA_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 1000, cfg.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.True(t, cfg.DescribeEmptyResponses)
	assert.Equal(t, DefaultPrompt, cfg.Prompt)

	l := cfg.Limits()
	assert.Equal(t, int64(10<<20), l.MaxBytes)
	assert.Equal(t, 2048, l.MaxDimension)
	assert.Equal(t, 4096, l.HighRiskDimension)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("AI_TIMEOUT", "90")
	t.Setenv("MAX_IMAGE_SIZE_MB", "4")
	t.Setenv("MAX_IMAGE_DIMENSION", "1024")
	t.Setenv("IMAGE_CACHE_TTL", "2m")
	t.Setenv("DESCRIBE_EMPTY_RESPONSES", "false")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load("")
	require.NoError(t, err)

	mc := cfg.ModelConfig()
	assert.Equal(t, "claude", mc.Backend)
	assert.Equal(t, "claude-3-5-sonnet-latest", mc.Model)
	assert.Equal(t, "sk-ant", mc.APIKey)
	assert.Equal(t, 90*time.Second, mc.Timeout)
	assert.True(t, mc.SuppressEmptyNotice)

	opts := cfg.GovernorOptions()
	assert.Equal(t, int64(4<<20), opts.Limits.MaxBytes)
	assert.Equal(t, 1024, opts.Limits.MaxDimension)
	assert.Equal(t, 2*time.Minute, opts.CacheTTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestZeroCacheSizeDisablesCache(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAGE_CACHE_SIZE", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Image.CacheSize)
	assert.Less(t, cfg.GovernorOptions().CacheSize, 0)

	clearEnv(t)
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.GovernorOptions().CacheSize)
}

func TestGenericKeyWinsOverBackendKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "gemini")
	t.Setenv("AI_API_KEY", "generic")
	t.Setenv("GOOGLE_API_KEY", "specific")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "generic", cfg.APIKey)
	assert.Equal(t, "gemini-1.5-pro-latest", cfg.Model)
}

func TestOllamaHost(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "ollama")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.BaseURL)
	assert.Equal(t, "llava", cfg.Model)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "roomcleaner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: ollama
model: bakllava
timeout: 45s
image:
  max_dimension: 1536
  high_risk_dimension: 3072
log:
  level: debug
`), 0o600))
	t.Setenv("AI_MODEL", "llava:13b")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "llava:13b", cfg.Model)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 1536, cfg.Image.MaxDimension)
	assert.Equal(t, 3072, cfg.Image.HighRiskDimension)
	assert.Equal(t, 10, cfg.Image.MaxSizeMB, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadErrorsAreConfigErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":            {"MAX_IMAGE_DIMENSION": "big"},
		"bad bool":           {"DESCRIBE_EMPTY_RESPONSES": "maybe"},
		"bad duration":       {"AI_TIMEOUT": "soon"},
		"unknown provider":   {"AI_PROVIDER": "skynet"},
		"threshold too low":  {"HIGH_RISK_DIMENSION_THRESHOLD": "1000"},
		"negative size":      {"MAX_IMAGE_SIZE_MB": "-1"},
		"bad log level":      {"LOG_LEVEL": "loud"},
		"bad log format":     {"LOG_FORMAT": "xml"},
		"non-positive token": {"AI_MAX_TOKENS": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, errs.ErrConfig)
}
