package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Telegram.BotToken = "123456:ABC-def_ghi"
	cfg.AI.APIKey = "AIzaSyTest"
	cfg.Workspace.Path = "/srv/repo"
	cfg.DataDir = "/var/lib/closedai"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, 10*time.Minute, cfg.AI.Timeout)
	assert.Equal(t, 20, cfg.Chat.HistoryLimit)
	assert.Equal(t, 10, cfg.Chat.MaxTurns)
	assert.Equal(t, 4000, cfg.Chat.MaxMessageLength)
	assert.Equal(t, time.Second, cfg.Chat.Debounce)
	assert.Equal(t, "@every 60s", cfg.Queue.Schedule)
	assert.Equal(t, []string{"*"}, cfg.Tools.Allow)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Workspace.UnsafeMode)
}

func TestConfigPaths(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, filepath.Join("/var/lib/closedai", "closedai.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/var/lib/closedai", "closedai.pid"), cfg.PIDPath())
	assert.Equal(t, "config.yaml", filepath.Base(DefaultPath()))
}

func TestConfigValidate(t *testing.T) {
	t.Run("should accept a complete config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should require credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.APIKey = ""
		cfg.Telegram.BotToken = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no AI credentials")
		assert.Contains(t, err.Error(), "telegram bot token is required")
	})

	t.Run("should require a workspace", func(t *testing.T) {
		cfg := validConfig()
		cfg.Workspace.Path = ""
		assert.ErrorContains(t, cfg.Validate(), "workspace path is required")
	})

	t.Run("should include validator errors", func(t *testing.T) {
		cfg := validConfig()
		cfg.Log.Level = "verbose"
		assert.ErrorContains(t, cfg.Validate(), "invalid log level")
	})
}

func TestConfigString(t *testing.T) {
	cfg := validConfig()
	s := cfg.String()
	assert.Contains(t, s, `"provider": "gemini"`)
	assert.NotContains(t, s, cfg.AI.APIKey)
	assert.NotContains(t, s, cfg.Telegram.BotToken)
}
