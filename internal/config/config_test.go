package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// isolate points HOME and the working directory at an empty temp dir so no
// real config file or API key leaks into the test
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OLLAMA_BASE_URL", "")

	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.LLM.TopLogprobs)
	assert.Equal(t, "canada", cfg.LLM.Region)
	assert.InDelta(t, 0.3, cfg.Confidence.Weights.LLM, 1e-9)
	assert.InDelta(t, 0.6, cfg.Confidence.Weights.Logprob, 1e-9)
	assert.InDelta(t, 0.1, cfg.Confidence.Weights.Validation, 1e-9)
	assert.InDelta(t, 1.0, cfg.Confidence.ValidationPassValue, 1e-9)
	assert.InDelta(t, 0.0, cfg.Confidence.ValidationFailValue, 1e-9)
	assert.Equal(t, 5, cfg.MICR.Rules.TransitLength)
	assert.Equal(t, 3, cfg.MICR.Rules.InstitutionLength)
	assert.Equal(t, 100, cfg.Image.MinWidth)
	assert.True(t, cfg.Image.RespectRobots)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, filepath.Join(dir, ".micr", "cache"), cfg.Cache.Dir)
	assert.Equal(t, filepath.Join(dir, ".micr", "micr.db"), cfg.Store.Path)
	assert.Equal(t, 4, cfg.Concurrency.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.InDelta(t, 0.7, cfg.Output.LowConfidenceThreshold, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := isolate(t)

	yaml := `
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  api_key: sk-ant-file
confidence:
  weights:
    llm: 0.2
    logprob: 0.7
    validation: 0.1
  validation_fail_value: 0.25
micr:
  max_account_length: 12
  institutions:
    "815": Bridgewater Bank
    "999": Test Credit Union
cache:
  enabled: false
concurrency:
  workers: 8
http:
  http_proxy: http://proxy.internal:3128
  no_proxy: localhost
log:
  level: debug
  format: json
`
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-ant-file", cfg.LLM.APIKey)
	assert.InDelta(t, 0.7, cfg.Confidence.Weights.Logprob, 1e-9)
	assert.InDelta(t, 0.25, cfg.Confidence.ValidationFailValue, 1e-9)
	assert.Equal(t, 12, cfg.MICR.Rules.MaxAccountLength)
	assert.Equal(t, 5, cfg.MICR.Rules.TransitLength, "unset rules keep defaults")
	assert.Equal(t, "Test Credit Union", cfg.MICR.Institutions["999"])
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 8, cfg.Concurrency.Workers)
	assert.Equal(t, "http://proxy.internal:3128", cfg.HTTP.HTTPProxy)
	assert.Equal(t, cfg.HTTP, cfg.LLM.Proxy)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("llm:\n  model: gpt-4o-mini\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.NotEmpty(t, cfg.File)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("MICR_LLM_MODEL", "gpt-4.1")
	t.Setenv("MICR_CONCURRENCY_WORKERS", "2")
	t.Setenv("MICR_CONFIDENCE_WEIGHTS_VALIDATION", "0.2")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Concurrency.Workers)
	assert.InDelta(t, 0.2, cfg.Confidence.Weights.Validation, 1e-9)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestLoadProviderSpecificFallbacks(t *testing.T) {
	isolate(t)
	t.Setenv("MICR_LLM_PROVIDER", "ollama")
	t.Setenv("OPENAI_API_KEY", "sk-should-not-be-used")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.BaseURL)
}

func TestUseProvider(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)

	cfg.UseProvider("", "gpt-4o-mini")
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)

	cfg.UseProvider("anthropic", "")
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
	assert.Empty(t, cfg.LLM.Model)

	cfg.UseProvider("OLLAMA", "llama3.2-vision")
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, "llama3.2-vision", cfg.LLM.Model)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.LLM.Provider = "gemini"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Concurrency.Workers = 0
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Output.LowConfidenceThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.MICR.Institutions = map[string]string{"12": "Too short"}
	assert.Error(t, bad.Validate())
}

func TestCacheTTLs(t *testing.T) {
	c := CacheConfig{MemoryTTLMinutes: 30, DiskTTLHours: 2}
	assert.Equal(t, "30m0s", c.MemoryTTL().String())
	assert.Equal(t, "2h0m0s", c.DiskTTL().String())
}

func TestInitLogger(t *testing.T) {
	orig := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(orig) })

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zap.WarnLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
