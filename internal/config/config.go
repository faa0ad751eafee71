// Package config loads normagent.toml and supplies defaults for every
// tunable the control loop reads. Nothing in the packages below reaches
// for magic numbers; the loop window, step budget, thresholds and retry
// counts all come from here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file looked up in the working directory.
const FileName = "normagent.toml"

// Config is the full agent configuration.
type Config struct {
	LLM      LLM      `toml:"llm"`
	Judge    Judge    `toml:"judge"`
	Budget   Budget   `toml:"budget"`
	Executor Executor `toml:"executor"`
	Search   Search   `toml:"search"`
	Storage  Storage  `toml:"storage"`
	Logging  Logging  `toml:"logging"`
	NATS     NATS     `toml:"nats"`
}

// LLM configures the chat-completions provider shared by the planner,
// judge, dispatcher and finalizer.
type LLM struct {
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	APIKeyEnv      string  `toml:"api_key_env"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
	// ParseRetries bounds re-prompts when model output fails validation.
	ParseRetries int `toml:"parse_retries"`
}

// Timeout returns the per-call deadline.
func (l LLM) Timeout() time.Duration { return time.Duration(l.TimeoutSeconds) * time.Second }

// APIKey reads the key from the configured environment variable.
func (l LLM) APIKey() string { return os.Getenv(l.APIKeyEnv) }

// Judge configures the decision engine.
type Judge struct {
	// LoopWindow is how many of the newest history entries are compared
	// for loop detection.
	LoopWindow         int     `toml:"loop_window"`
	RelevanceThreshold float64 `toml:"relevance_threshold"`
}

// Budget caps total work per session.
type Budget struct {
	MaxSteps int `toml:"max_steps"`
}

// Executor configures the step dispatcher.
type Executor struct {
	MaxToolRetries     int `toml:"max_tool_retries"`
	ToolTimeoutSeconds int `toml:"tool_timeout_seconds"`
}

// ToolTimeout returns the per-invocation tool deadline.
func (e Executor) ToolTimeout() time.Duration {
	return time.Duration(e.ToolTimeoutSeconds) * time.Second
}

// Search configures the corpus search tool.
type Search struct {
	Hits int `toml:"hits"`
}

// Storage roots all persistent data under one directory.
type Storage struct {
	Path string `toml:"path"`
}

// IndexPath is the bleve corpus index location.
func (s Storage) IndexPath() string { return filepath.Join(s.Path, "corpus.bleve") }

// SessionsPath holds the JSONL session trails.
func (s Storage) SessionsPath() string { return filepath.Join(s.Path, "sessions") }

// CheckpointsPath holds the numbered state snapshots.
func (s Storage) CheckpointsPath() string { return filepath.Join(s.Path, "checkpoints") }

// Logging configures the zap tee (rotated JSON file + console).
type Logging struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	Console    bool   `toml:"console"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// NATS configures optional escalation notifications. An empty URL (and
// empty fallback env) disables publishing.
type NATS struct {
	URL string `toml:"url"`
}

// ServerURL returns the configured URL or the NORMAGENT_NATS_URL
// fallback.
func (n NATS) ServerURL() string {
	if n.URL != "" {
		return n.URL
	}
	return os.Getenv("NORMAGENT_NATS_URL")
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		LLM: LLM{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o",
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      4096,
			Temperature:    0.1,
			TimeoutSeconds: 120,
			MaxRetries:     3,
			ParseRetries:   3,
		},
		Judge: Judge{
			LoopWindow:         3,
			RelevanceThreshold: 0.3,
		},
		Budget: Budget{
			MaxSteps: 20,
		},
		Executor: Executor{
			MaxToolRetries:     2,
			ToolTimeoutSeconds: 30,
		},
		Search: Search{
			Hits: 3,
		},
		Storage: Storage{
			Path: "~/.local/normagent",
		},
		Logging: Logging{
			Level:      "info",
			Console:    true,
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// LoadFile reads a TOML file over the defaults, expands home-relative
// paths, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load uses normagent.toml from the working directory when present,
// otherwise the defaults.
func Load() (*Config, error) {
	if _, err := os.Stat(FileName); err == nil {
		return LoadFile(FileName)
	}
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	c.Storage.Path = ExpandHome(c.Storage.Path)
	c.Logging.File = ExpandHome(c.Logging.File)
	return c.Validate()
}

// Validate rejects settings the control loop cannot run under.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must be set")
	}
	if c.Budget.MaxSteps <= 0 {
		return fmt.Errorf("budget.max_steps must be positive, got %d", c.Budget.MaxSteps)
	}
	if c.Judge.LoopWindow <= 0 {
		return fmt.Errorf("judge.loop_window must be positive, got %d", c.Judge.LoopWindow)
	}
	if c.Judge.LoopWindow > c.Budget.MaxSteps {
		return fmt.Errorf("judge.loop_window %d exceeds budget.max_steps %d",
			c.Judge.LoopWindow, c.Budget.MaxSteps)
	}
	if c.Judge.RelevanceThreshold < 0 || c.Judge.RelevanceThreshold > 1 {
		return fmt.Errorf("judge.relevance_threshold %v outside [0,1]", c.Judge.RelevanceThreshold)
	}
	if c.LLM.ParseRetries <= 0 {
		return fmt.Errorf("llm.parse_retries must be positive, got %d", c.LLM.ParseRetries)
	}
	if c.Search.Hits <= 0 {
		return fmt.Errorf("search.hits must be positive, got %d", c.Search.Hits)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must be set")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// ExpandHome rewrites a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
