// Package config holds all zenus configuration.
// Configuration is resolved in three layers: compiled defaults, an optional
// <state_root>/config.yaml, and finally environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all zenus configuration.
type Config struct {
	// StateRoot is the directory for persistent state
	// (actions.db, failures.db, cache/, backups/, metrics.jsonl, ...).
	StateRoot string `yaml:"state_root"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Router configuration
	Router RouterConfig `yaml:"router"`

	// Intent cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Parallel executor configuration
	Executor ExecutorConfig `yaml:"executor"`

	// Iterative loop configuration
	Iterative IterativeConfig `yaml:"iterative"`

	// Feedback collection configuration
	Feedback FeedbackConfig `yaml:"feedback"`

	// Sandbox configuration
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the oracle providers.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // gemini, openai, anthropic, openrouter, local
	Model     string `yaml:"model"`    // optional model override for the provider
	BaseURL   string `yaml:"base_url"` // OpenAI-compatible base URL for the local tier
	MaxTokens int    `yaml:"max_tokens"`
}

// RouterConfig configures model tier selection.
type RouterConfig struct {
	ForceModel   string `yaml:"force_model"` // operator override, bypasses selection
	MaxFallbacks int    `yaml:"max_fallbacks"`
}

// CacheConfig configures the intent cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

// ExecutorConfig configures the parallel executor.
type ExecutorConfig struct {
	MaxWorkers          int `yaml:"max_workers"`
	StepDeadlineSeconds int `yaml:"step_deadline_seconds"`
}

// IterativeConfig configures the ReAct loop.
type IterativeConfig struct {
	BatchSize int `yaml:"batch_size"`
	MaxTotal  int `yaml:"max_total"`
}

// FeedbackConfig configures post-execution feedback capture.
type FeedbackConfig struct {
	SampleRate     float64 `yaml:"sample_rate"`
	PromptsEnabled bool    `yaml:"prompts_enabled"`
}

// SandboxConfig configures execution isolation.
type SandboxConfig struct {
	AllowedRoots  []string `yaml:"allowed_roots"`
	ReadOnlyRoots []string `yaml:"read_only_roots"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		StateRoot: filepath.Join(home, ".zenus"),
		LLM: LLMConfig{
			Provider:  "gemini",
			BaseURL:   "http://localhost:11434/v1",
			MaxTokens: 4096,
		},
		Router: RouterConfig{
			MaxFallbacks: 2,
		},
		Cache: CacheConfig{
			TTLSeconds: 3600,
			MaxEntries: 500,
		},
		Executor: ExecutorConfig{
			MaxWorkers:          4,
			StepDeadlineSeconds: 300,
		},
		Iterative: IterativeConfig{
			BatchSize: 12,
			MaxTotal:  50,
		},
		Feedback: FeedbackConfig{
			SampleRate:     0.1,
			PromptsEnabled: true,
		},
		Sandbox: SandboxConfig{
			AllowedRoots: []string{home, os.TempDir()},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the optional
// config.yaml under the state root, then environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// ZENUS_STATE_ROOT must be applied before the file is looked up.
	if root := os.Getenv("ZENUS_STATE_ROOT"); root != "" {
		cfg.StateRoot = root
	}

	path := filepath.Join(cfg.StateRoot, "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("ZENUS_STATE_ROOT"); root != "" {
		c.StateRoot = root
	}
	if v := os.Getenv("ZENUS_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("ZENUS_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ZENUS_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v, ok := envInt("ZENUS_MAX_TOKENS"); ok {
		c.LLM.MaxTokens = v
	}
	if v := os.Getenv("ZENUS_FORCE_MODEL"); v != "" {
		c.Router.ForceModel = v
	}
	if v, ok := envInt("ZENUS_CACHE_TTL_SECONDS"); ok {
		c.Cache.TTLSeconds = v
	}
	if v, ok := envInt("ZENUS_CACHE_MAX_ENTRIES"); ok {
		c.Cache.MaxEntries = v
	}
	if v, ok := envInt("ZENUS_MAX_WORKERS"); ok {
		c.Executor.MaxWorkers = v
	}
	if v, ok := envInt("ZENUS_STEP_DEADLINE_SECONDS"); ok {
		c.Executor.StepDeadlineSeconds = v
	}
	if v, ok := envInt("ZENUS_BATCH_SIZE"); ok {
		c.Iterative.BatchSize = v
	}
	if v, ok := envInt("ZENUS_MAX_ITERATIONS"); ok {
		c.Iterative.MaxTotal = v
	}
	if v := os.Getenv("ZENUS_FEEDBACK_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Feedback.SampleRate = f
		}
	}
	if v := os.Getenv("ZENUS_FEEDBACK_PROMPTS"); v != "" {
		c.Feedback.PromptsEnabled = v == "1" || v == "true"
	}
	if v := os.Getenv("ZENUS_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("ZENUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// EnsureStateDirs creates the state root and its expected subdirectories.
func (c *Config) EnsureStateDirs() error {
	for _, dir := range []string{
		c.StateRoot,
		filepath.Join(c.StateRoot, "cache"),
		filepath.Join(c.StateRoot, "backups"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}
