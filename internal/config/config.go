package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the main closedai configuration
type Config struct {
	Telegram  TelegramConfig   `json:"telegram" mapstructure:"telegram"`
	AI        AIConfig         `json:"ai" mapstructure:"ai"`
	Chat      ChatConfig       `json:"chat" mapstructure:"chat"`
	Workspace WorkspaceConfig  `json:"workspace" mapstructure:"workspace"`
	Tools     ToolPolicyConfig `json:"tools" mapstructure:"tools"`
	Queue     QueueConfig      `json:"queue" mapstructure:"queue"`
	Log       LogConfig        `json:"log" mapstructure:"log"`
	Metrics   MetricsConfig    `json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig    `json:"tracing" mapstructure:"tracing"`

	// Data directory for the database, pid file and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken       string  `json:"-" mapstructure:"bot_token"`
	AllowedUserIDs []int64 `json:"allowed_user_ids" mapstructure:"allowed_user_ids"`
	PollTimeout    int     `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds
}

// AIConfig holds completion provider configuration
type AIConfig struct {
	Provider     string        `json:"provider" mapstructure:"provider"` // gemini, anthropic, openai
	Model        string        `json:"model" mapstructure:"model"`
	CommitModel  string        `json:"commit_model" mapstructure:"commit_model"`
	APIKey       string        `json:"-" mapstructure:"api_key"`
	Temperature  float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	SystemPrompt string        `json:"system_prompt" mapstructure:"system_prompt"`
}

// ChatConfig holds turn loop settings
type ChatConfig struct {
	HistoryLimit     int           `json:"history_limit" mapstructure:"history_limit"`
	MaxTurns         int           `json:"max_turns" mapstructure:"max_turns"`
	MaxMessageLength int           `json:"max_message_length" mapstructure:"max_message_length"`
	Debounce         time.Duration `json:"debounce" mapstructure:"debounce"`
	ToolTimeout      time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
}

// WorkspaceConfig describes the repository the agent works in
type WorkspaceConfig struct {
	Path         string `json:"path" mapstructure:"path"`
	UnsafeMode   bool   `json:"unsafe_mode" mapstructure:"unsafe_mode"`
	GitUserName  string `json:"git_user_name" mapstructure:"git_user_name"`
	GitUserEmail string `json:"git_user_email" mapstructure:"git_user_email"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// QueueConfig holds retry queue settings
type QueueConfig struct {
	Schedule   string        `json:"schedule" mapstructure:"schedule"` // cron spec
	StaleAfter time.Duration `json:"stale_after" mapstructure:"stale_after"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	Limit      int    `json:"limit" mapstructure:"limit"` // most lines /tail returns
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Redact     bool   `json:"redact" mapstructure:"redact"`
}

// MetricsConfig holds the Prometheus listener address; empty disables it
type MetricsConfig struct {
	Listen string `json:"listen" mapstructure:"listen"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Exporter string `json:"exporter" mapstructure:"exporter"` // stdout, none
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		AI: AIConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-pro",
			CommitModel: "gemini-2.5-flash",
			Temperature: 0.2,
			Timeout:     10 * time.Minute,
		},
		Chat: ChatConfig{
			HistoryLimit:     20,
			MaxTurns:         10,
			MaxMessageLength: 4000,
			Debounce:         time.Second,
			ToolTimeout:      2 * time.Minute,
		},
		Workspace: WorkspaceConfig{
			GitUserName:  "closedai",
			GitUserEmail: "closedai@localhost",
		},
		Tools: ToolPolicyConfig{
			Allow: []string{"*"},
			Deny:  []string{},
		},
		Queue: QueueConfig{
			Schedule:   "@every 60s",
			StaleAfter: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Limit:      50,
			MaxSizeMB:  10,
			MaxBackups: 3,
			Redact:     true,
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
	}
}

// DefaultDir returns ~/.closedai
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".closedai"
	}
	return filepath.Join(home, ".closedai")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DatabasePath returns the SQLite database location
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "closedai.db")
}

// PIDPath returns the lock file location
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "closedai.pid")
}

// String returns a JSON representation of the config. Secrets are omitted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, fmt.Errorf("telegram bot token is required"))
	}
	if c.AI.APIKey == "" {
		errs = append(errs, fmt.Errorf("no AI credentials configured: ai.api_key is required"))
	}
	if c.Workspace.Path == "" {
		errs = append(errs, fmt.Errorf("workspace path is required"))
	}
	errs = append(errs, NewValidator().ValidateConfig(c)...)
	return errors.Join(errs...)
}
