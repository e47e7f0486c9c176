package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# closedai configuration
# Every key can be overridden with a CLOSEDAI_ environment variable,
# e.g. CLOSEDAI_AI_MODEL or CLOSEDAI_TELEGRAM_BOT_TOKEN.

`

// ErrConfigExists is returned by WriteFile when the file exists and force is false.
var ErrConfigExists = errors.New("config file already exists")

// Document returns cfg as the nested map written to config files.
// Durations are rendered as strings such as "60s".
func Document(cfg *Config) map[string]interface{} {
	allowed := cfg.Telegram.AllowedUserIDs
	if allowed == nil {
		allowed = []int64{}
	}
	return map[string]interface{}{
		"telegram": map[string]interface{}{
			"bot_token":        cfg.Telegram.BotToken,
			"allowed_user_ids": allowed,
			"poll_timeout":     cfg.Telegram.PollTimeout,
		},
		"ai": map[string]interface{}{
			"provider":      cfg.AI.Provider,
			"model":         cfg.AI.Model,
			"commit_model":  cfg.AI.CommitModel,
			"api_key":       cfg.AI.APIKey,
			"temperature":   cfg.AI.Temperature,
			"max_tokens":    cfg.AI.MaxTokens,
			"timeout":       cfg.AI.Timeout.String(),
			"system_prompt": cfg.AI.SystemPrompt,
		},
		"chat": map[string]interface{}{
			"history_limit":      cfg.Chat.HistoryLimit,
			"max_turns":          cfg.Chat.MaxTurns,
			"max_message_length": cfg.Chat.MaxMessageLength,
			"debounce":           cfg.Chat.Debounce.String(),
			"tool_timeout":       cfg.Chat.ToolTimeout.String(),
		},
		"workspace": map[string]interface{}{
			"path":           cfg.Workspace.Path,
			"unsafe_mode":    cfg.Workspace.UnsafeMode,
			"git_user_name":  cfg.Workspace.GitUserName,
			"git_user_email": cfg.Workspace.GitUserEmail,
		},
		"tools": map[string]interface{}{
			"allow": nonNil(cfg.Tools.Allow),
			"deny":  nonNil(cfg.Tools.Deny),
		},
		"queue": map[string]interface{}{
			"schedule":    cfg.Queue.Schedule,
			"stale_after": cfg.Queue.StaleAfter.String(),
		},
		"log": map[string]interface{}{
			"level":       cfg.Log.Level,
			"file":        cfg.Log.File,
			"pretty":      cfg.Log.Pretty,
			"limit":       cfg.Log.Limit,
			"max_size_mb": cfg.Log.MaxSizeMB,
			"max_backups": cfg.Log.MaxBackups,
			"redact":      cfg.Log.Redact,
		},
		"metrics": map[string]interface{}{
			"listen": cfg.Metrics.Listen,
		},
		"tracing": map[string]interface{}{
			"enabled":  cfg.Tracing.Enabled,
			"exporter": cfg.Tracing.Exporter,
		},
		"data_dir": cfg.DataDir,
	}
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(Document(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append([]byte(fileHeader), data...), nil
}

// WriteFile writes cfg to path with owner-only permissions.
func WriteFile(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
