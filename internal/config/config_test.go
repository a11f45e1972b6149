package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearGatewayEnv unsets every env var the gateway understands, so tests
// see the baked-in defaults regardless of the developer's shell. t.Setenv
// first registers the restore; Unsetenv then actually removes the var.
func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for name := range envKeys {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearGatewayEnv(t)

	// Point at a path that doesn't exist: the YAML layer is optional.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr)
	assert.Equal(t, []string{"secret-key"}, cfg.UserKeys())
	assert.Empty(t, cfg.AdminKeys())
	assert.Equal(t, uint64(60), cfg.RateLimitRPM)
	assert.Equal(t, "stats.json", cfg.StatsFile)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.False(t, cfg.OpenAIEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearGatewayEnv(t)

	t.Setenv("GATEWAY_API_KEYS", "k1, k2,,k3 ")
	t.Setenv("ADMIN_API_KEYS", "admin-1")
	t.Setenv("GATEWAY_RATE_LIMIT_RPM", "120")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "https://api.openai.com")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("UNRELATED_VAR", "ignored") // not in the table, dropped

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.UserKeys())
	assert.Equal(t, []string{"admin-1"}, cfg.AdminKeys())
	assert.Equal(t, uint64(120), cfg.RateLimitRPM)
	assert.Equal(t, "http://ollama.internal:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.OpenAIEnabled())
}

func TestLoadYAMLFileWithEnvOverride(t *testing.T) {
	clearGatewayEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
addr: 0.0.0.0:9090
rate_limit_rpm: 30
ollama:
  base_url: http://from-file:11434
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// Env wins over the file.
	t.Setenv("OLLAMA_BASE_URL", "http://from-env:11434")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	assert.Equal(t, uint64(30), cfg.RateLimitRPM)
	assert.Equal(t, "http://from-env:11434", cfg.Ollama.BaseURL)
}

func TestOpenAIEnabledNeedsBothValues(t *testing.T) {
	cfg := &Config{OpenAI: OpenAIConfig{APIKey: "sk-test"}}
	assert.False(t, cfg.OpenAIEnabled())

	cfg.OpenAI.BaseURL = "https://api.openai.com"
	assert.True(t, cfg.OpenAIEnabled())
}

func TestParseKeys(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"single", "secret-key", []string{"secret-key"}},
		{"multiple", "a,b,c", []string{"a", "b", "c"}},
		{"whitespace trimmed", " a , b ", []string{"a", "b"}},
		{"empties dropped", "a,,b,", []string{"a", "b"}},
		{"empty input", "", nil},
		{"only separators", " , , ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseKeys(tt.raw))
		})
	}
}
