// Package config loads runtime configuration from settings.toml with
// environment overrides.
//
// API keys are never stored in the settings file; they are read from the
// environment at composition time and never logged.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// OllamaConfig configures the local Ollama provider.
type OllamaConfig struct {
	Host         string `toml:"host"`
	DefaultModel string `toml:"default_model"`
}

// RetryConfig tunes the gateway retry policy.
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

// WorkflowConfig bounds orchestration runs.
type WorkflowConfig struct {
	MaxSteps       int `toml:"max_steps"`
	TimeoutSeconds int `toml:"timeout_seconds"`
	ToolTimeoutSec int `toml:"tool_timeout_seconds"`
}

// Config is the resolved runtime configuration.
type Config struct {
	DataDirectory       string         `toml:"data_directory"`
	DefaultSystemPrompt string         `toml:"default_system_prompt,omitempty"`
	Ollama              OllamaConfig   `toml:"ollama"`
	Retry               RetryConfig    `toml:"retry"`
	Workflow            WorkflowConfig `toml:"workflow"`

	// RequestsPerSecond throttles outbound gateway calls across all
	// providers. Zero disables throttling.
	RequestsPerSecond float64 `toml:"requests_per_second"`

	// DebounceMS is the persistence quiet period.
	DebounceMS int `toml:"debounce_ms"`
}

func defaults() *Config {
	return &Config{
		DataDirectory: "~/.local/share/chatcore",
		Ollama: OllamaConfig{
			Host:         "http://localhost:11434",
			DefaultModel: "llama3.1:latest",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 500,
			MaxDelayMS:  10000,
		},
		Workflow: WorkflowConfig{
			MaxSteps:       32,
			TimeoutSeconds: 300,
			ToolTimeoutSec: 30,
		},
		DebounceMS: 500,
	}
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Debounce returns the persistence quiet period as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// AnthropicAPIKey reads the Anthropic credential from the environment.
// Keys never live in settings.toml.
func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// OpenAIAPIKey reads the OpenAI credential from the environment.
func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("CHATCORE_OLLAMA_HOST"); host != "" {
		c.Ollama.Host = host
	}
	if model := os.Getenv("CHATCORE_OLLAMA_MODEL"); model != "" {
		c.Ollama.DefaultModel = model
	}
	if dataDir := os.Getenv("CHATCORE_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if rps := os.Getenv("CHATCORE_REQUESTS_PER_SECOND"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			c.RequestsPerSecond = v
		}
	}
}

// Load reads settings.toml (when present), applies environment overrides,
// and ensures the data directory exists with user-only permissions.
func Load() (*Config, error) {
	cfg := defaults()

	settingsPath := SettingsFilePath()
	if FileExists(settingsPath) {
		if _, err := toml.DecodeFile(settingsPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}
	cfg.applyEnvOverrides()

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration back to settings.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(ConfigDir()); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(SettingsFilePath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open settings file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}
