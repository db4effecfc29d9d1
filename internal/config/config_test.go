package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt-tester/internal/tester"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v, "PROMPT_TESTER"))
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Type)
	assert.Equal(t, 5*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 8501, cfg.Server.Port)
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Equal(t, tester.DefaultSettings(), cfg.DefaultSettings())
	assert.Equal(t, tester.DefaultModel, cfg.ClientConfig().Model)
}

func TestLoadReadsPlainEnvNames(t *testing.T) {
	t.Setenv("BASE_URL", "http://gpu-box:8000/v1")
	t.Setenv("API_KEY", "secret")

	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:8000/v1", cfg.LLM.URL)
	assert.Equal(t, "secret", cfg.LLM.Token)
}

func TestPrefixedEnvWins(t *testing.T) {
	t.Setenv("BASE_URL", "http://plain")
	t.Setenv("PROMPT_TESTER_LLM_URL", "http://prefixed")

	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "http://prefixed", cfg.LLM.URL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt-tester.yaml")
	content := []byte(`
llm:
  type: gemini
  model: gemini-2.0-flash
  timeout: 30s
server:
  port: 9000
  cors_origins:
    - http://localhost:3000
metrics:
  enabled: false
tester:
  repetitions: 4
  temperature: 0.1
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := newViper(t)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Type)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Metrics.Enabled)
	settings := cfg.DefaultSettings()
	assert.Equal(t, 4, settings.Repetitions)
	assert.InDelta(t, 0.1, settings.Temperature, 1e-9)
	assert.Equal(t, "gemini-2.0-flash", cfg.ClientConfig().Model)
}

func TestValidateRejectsBadValues(t *testing.T) {
	v := newViper(t)
	v.Set("llm.type", "palm")
	_, err := LoadFrom(v)
	assert.ErrorContains(t, err, "invalid llm.type")

	v = newViper(t)
	v.Set("tester.repetitions", 11)
	_, err = LoadFrom(v)
	assert.ErrorIs(t, err, tester.ErrInvalidSettings)

	v = newViper(t)
	v.Set("metrics.path", "metrics")
	_, err = LoadFrom(v)
	assert.ErrorContains(t, err, "metrics.path")

	v = newViper(t)
	v.Set("log.format", "xml")
	_, err = LoadFrom(v)
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PT_DOTENV_PROBE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PT_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("PT_DOTENV_PROBE"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
