package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// envAliases binds the unprefixed variable names accepted for credentials
// and workspace settings.
var envAliases = map[string][]string{
	"telegram.bot_token":        {"TELEGRAM_BOT_TOKEN"},
	"telegram.allowed_user_ids": {"ALLOWED_TELEGRAM_USER_IDS"},
	"ai.api_key":                {"GEMINI_API_KEY"},
	"workspace.path":            {"CLOSEDAI_WORKSPACE_DIR", "WORKSPACE_DIR"},
	"workspace.unsafe_mode":     {"CLOSEDAI_UNSAFE_MODE", "UNSAFE_MODE"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	v          *viper.Viper
	mu         sync.Mutex
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultPath()
}

// Load reads the config file (if present) and environment overrides on top
// of DefaultConfig.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	configPath := l.GetConfigPath()
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("CLOSEDAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, "CLOSEDAI_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if ext := strings.TrimPrefix(filepath.Ext(configPath), "."); ext == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	l.v = v
	return cfg, nil
}

// Watch reloads the config file when it changes and hands the new config
// to onChange. Load must have been called first.
func (l *Loader) Watch(onChange func(*Config)) error {
	l.mu.Lock()
	v := l.v
	l.mu.Unlock()
	if v == nil {
		return errors.New("config not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Failed to reload config")
			return
		}
		log.Info().Str("file", e.Name).Msg("Config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDerivedDefaults(cfg)
	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDir()
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(cfg.DataDir, "closedai.log")
	}
	if cfg.AI.CommitModel == "" {
		cfg.AI.CommitModel = cfg.AI.Model
	}
	if cfg.Workspace.Path != "" {
		if abs, err := filepath.Abs(cfg.Workspace.Path); err == nil {
			cfg.Workspace.Path = abs
		}
	}
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range Document(cfg) {
		if section, ok := value.(map[string]interface{}); ok {
			for sub, subValue := range section {
				v.SetDefault(key+"."+sub, subValue)
			}
			continue
		}
		v.SetDefault(key, value)
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
