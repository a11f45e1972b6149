// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the ai-gateway.
//
// APIKeys and AdminAPIKeys hold the raw comma-separated values as
// configured; use UserKeys()/AdminKeys() for the parsed lists.
type Config struct {
	Addr          string `koanf:"addr"`
	APIKeys       string `koanf:"api_keys"`
	AdminAPIKeys  string `koanf:"admin_api_keys"`
	RateLimitRPM  uint64 `koanf:"rate_limit_rpm"`
	StatsFile     string `koanf:"stats_file"`
	FallbackModel string `koanf:"fallback_model"`
	LogFormat     string `koanf:"log_format"`

	Ollama OllamaConfig `koanf:"ollama"`
	OpenAI OpenAIConfig `koanf:"openai"`
}

// OllamaConfig holds the local backend settings.
type OllamaConfig struct {
	BaseURL string `koanf:"base_url"`
}

// OpenAIConfig holds the hosted backend settings. The hosted backend (and
// with it, the fallback composition) is active only when both fields are
// set.
type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// envKeys maps the environment variables the gateway understands onto
// koanf key paths. Anything not in this table is someone else's env var
// and gets dropped (the callback returning "" tells koanf to skip it).
var envKeys = map[string]string{
	"GATEWAY_ADDR":           "addr",
	"GATEWAY_API_KEYS":       "api_keys",
	"ADMIN_API_KEYS":         "admin_api_keys",
	"GATEWAY_RATE_LIMIT_RPM": "rate_limit_rpm",
	"GATEWAY_STATS_FILE":     "stats_file",
	"GATEWAY_FALLBACK_MODEL": "fallback_model",
	"LOG_FORMAT":             "log_format",
	"OLLAMA_BASE_URL":        "ollama.base_url",
	"OPENAI_API_KEY":         "openai.api_key",
	"OPENAI_BASE_URL":        "openai.base_url",
}

// Load reads configuration in three layers: baked-in defaults, then an
// optional YAML file (skipped when absent), then environment variable
// overrides on top.
func Load(path string) (*Config, error) {
	// Load .env into the process environment first (ignored if not
	// present), so the env layer below sees it.
	_ = godotenv.Load()

	// Defaults live on the struct; koanf's Unmarshal only overwrites the
	// fields the loaded layers actually provide.
	cfg := Config{
		Addr:         "127.0.0.1:8080",
		APIKeys:      "secret-key",
		RateLimitRPM: 60,
		StatsFile:    "stats.json",
		LogFormat:    "text",
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
	}

	k := koanf.New(".")

	// YAML file layer. The file is optional — deployments that configure
	// everything through the environment don't need to ship one.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Environment layer. The empty prefix means every env var is offered
	// to the callback; the table keeps only the ones that are ours.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// UserKeys returns the parsed user API key list.
func (c *Config) UserKeys() []string {
	return ParseKeys(c.APIKeys)
}

// AdminKeys returns the parsed admin API key list.
func (c *Config) AdminKeys() []string {
	return ParseKeys(c.AdminAPIKeys)
}

// OpenAIEnabled reports whether the hosted backend is configured — both
// credentials must be present for the fallback composition to activate.
func (c *Config) OpenAIEnabled() bool {
	return c.OpenAI.APIKey != "" && c.OpenAI.BaseURL != ""
}

// ParseKeys splits a comma-separated key list, trimming whitespace around
// each entry and dropping empties ("a, b,,c " → ["a","b","c"]).
func ParseKeys(raw string) []string {
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
