// Package config holds the snchat configuration: server endpoint, polling
// policy, UI preferences and logging. Loaded from YAML with environment
// overrides applied on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all snchat configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Chat backend server
	Server ServerConfig `yaml:"server"`

	// ServiceNow response polling
	Polling PollingConfig `yaml:"polling"`

	// Chat behavior
	Chat ChatConfig `yaml:"chat"`

	// Conversation history persistence
	History HistoryConfig `yaml:"history"`

	// UI preferences
	UI UIConfig `yaml:"ui"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the chat backend endpoint.
type ServerConfig struct {
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PollingConfig configures the bounded retry loop for async responses.
// The thresholds are deliberately configuration, not constants.
type PollingConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Interval    string `yaml:"interval"`
}

// ChatConfig configures conversation behavior.
type ChatConfig struct {
	// UseServiceNow routes messages to the async ServiceNow agent
	// instead of the synchronous GPT backend.
	UseServiceNow bool `yaml:"use_servicenow"`

	// DebugMessages appends request/response payloads to the transcript.
	DebugMessages bool `yaml:"debug_messages"`

	// UnknownItemPolicy is what the decoder does with unrecognized UI
	// items: "raw" renders them as raw JSON, "drop" ignores them.
	UnknownItemPolicy string `yaml:"unknown_item_policy"`
}

// HistoryConfig configures transcript persistence.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// UIConfig configures the terminal interface.
type UIConfig struct {
	Theme string `yaml:"theme"` // light, dark, auto
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
	Directory string `yaml:"directory"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "snchat",
		Version: "1.0.0",

		Server: ServerConfig{
			BaseURL: "http://localhost:8000",
			Timeout: "30s",
		},

		Polling: PollingConfig{
			MaxAttempts: 30,
			Interval:    "1s",
		},

		Chat: ChatConfig{
			UseServiceNow:     false,
			DebugMessages:     false,
			UnknownItemPolicy: "raw",
		},

		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: "", // resolved to <config dir>/history.db when empty
		},

		UI: UIConfig{
			Theme: "auto",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Directory: "", // resolved to <config dir>/logs when empty
		},
	}
}

// DefaultPath returns the default config file location (~/.snchat/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".snchat", "config.yaml")
	}
	return filepath.Join(home, ".snchat", "config.yaml")
}

// Load reads the config from path, falling back to defaults when the file
// does not exist. Environment overrides are always applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.resolvePaths(filepath.Dir(path))
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Save writes the config to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SNCHAT_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("SNCHAT_USERNAME"); v != "" {
		c.Server.Username = v
	}
	if v := os.Getenv("SNCHAT_PASSWORD"); v != "" {
		c.Server.Password = v
	}
	if v := os.Getenv("SNCHAT_USE_SERVICENOW"); v == "1" || v == "true" {
		c.Chat.UseServiceNow = true
	}
	if v := os.Getenv("SNCHAT_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Chat.DebugMessages = true
	}
}

// resolvePaths fills in path defaults relative to the config directory.
func (c *Config) resolvePaths(configDir string) {
	if c.History.DatabasePath == "" {
		c.History.DatabasePath = filepath.Join(configDir, "history.db")
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = filepath.Join(configDir, "logs")
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Polling.MaxAttempts <= 0 {
		return fmt.Errorf("polling.max_attempts must be positive, got %d", c.Polling.MaxAttempts)
	}
	if _, err := time.ParseDuration(c.Polling.Interval); err != nil {
		return fmt.Errorf("polling.interval is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.Timeout); err != nil {
		return fmt.Errorf("server.timeout is not a valid duration: %w", err)
	}
	switch c.Chat.UnknownItemPolicy {
	case "raw", "drop":
	default:
		return fmt.Errorf("chat.unknown_item_policy must be raw or drop, got %q", c.Chat.UnknownItemPolicy)
	}
	switch c.UI.Theme {
	case "light", "dark", "auto":
	default:
		return fmt.Errorf("ui.theme must be light, dark or auto, got %q", c.UI.Theme)
	}
	return nil
}

// GetServerTimeout returns the parsed server timeout.
func (c *Config) GetServerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetPollInterval returns the parsed polling interval.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Polling.Interval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}
