package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a completion provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "gemini", "anthropic", "openai":
		return nil
	}
	return fmt.Errorf("invalid AI provider %q (must be one of: gemini, anthropic, openai)", provider)
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if strings.ContainsAny(key, " \t\n") {
			return fmt.Errorf("invalid Gemini API key format (contains whitespace)")
		}
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a cron spec such as "@every 60s"
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid queue schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateExporter validates the tracing exporter name
func (v *Validator) ValidateExporter(exporter string) error {
	switch exporter {
	case "", "stdout", "none":
		return nil
	}
	return fmt.Errorf("invalid tracing exporter: %s (must be one of: stdout, none)", exporter)
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProvider(cfg.AI.Provider); err != nil {
		errors = append(errors, err)
	} else if cfg.AI.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.AI.APIKey, cfg.AI.Provider); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.AI.Model == "" {
		errors = append(errors, fmt.Errorf("ai.model cannot be empty"))
	}
	if err := v.ValidateTemperature(cfg.AI.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.AI.MaxTokens); err != nil {
		errors = append(errors, err)
	}
	if cfg.AI.Timeout < 0 {
		errors = append(errors, fmt.Errorf("ai.timeout must be >= 0"))
	}

	if cfg.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errors = append(errors, err)
		}
	}
	for _, id := range cfg.Telegram.AllowedUserIDs {
		if id <= 0 {
			errors = append(errors, fmt.Errorf("telegram.allowed_user_ids: invalid user id %d", id))
		}
	}

	if cfg.Chat.HistoryLimit <= 0 {
		errors = append(errors, fmt.Errorf("chat.history_limit must be > 0"))
	}
	if cfg.Chat.MaxTurns <= 0 {
		errors = append(errors, fmt.Errorf("chat.max_turns must be > 0"))
	}
	if cfg.Chat.MaxMessageLength <= 0 || cfg.Chat.MaxMessageLength > 4096 {
		errors = append(errors, fmt.Errorf("chat.max_message_length must be between 1 and 4096"))
	}
	if cfg.Chat.Debounce < 0 {
		errors = append(errors, fmt.Errorf("chat.debounce must be >= 0"))
	}

	if err := v.ValidateSchedule(cfg.Queue.Schedule); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogLevel(cfg.Log.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateExporter(cfg.Tracing.Exporter); err != nil {
		errors = append(errors, err)
	}

	return errors
}
