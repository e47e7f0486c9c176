package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.yaml")
	assert.Equal(t, "/path/to/config.yaml", loader.GetConfigPath())
	assert.Equal(t, DefaultPath(), NewLoader("").GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should return defaults when the file does not exist", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "gemini", cfg.AI.Provider)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "closedai.log"), cfg.Log.File)
	})

	t.Run("should read a yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  bot_token: "123:abc"
  allowed_user_ids: [1001, 1002]
ai:
  provider: anthropic
  model: claude-sonnet-4-5
  timeout: 5m
chat:
  debounce: 500ms
workspace:
  path: /srv/repo
data_dir: /tmp/closedai-data
`), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
		assert.Equal(t, []int64{1001, 1002}, cfg.Telegram.AllowedUserIDs)
		assert.Equal(t, "anthropic", cfg.AI.Provider)
		assert.Equal(t, "claude-sonnet-4-5", cfg.AI.Model)
		assert.Equal(t, 5*time.Minute, cfg.AI.Timeout)
		assert.Equal(t, 500*time.Millisecond, cfg.Chat.Debounce)
		assert.Equal(t, 20, cfg.Chat.HistoryLimit)
		assert.Equal(t, "/srv/repo", cfg.Workspace.Path)
		assert.Equal(t, "/tmp/closedai-data", cfg.DataDir)
	})

	t.Run("should read a json file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"ai": {"model": "gemini-2.5-flash"}}`), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.5-flash", cfg.AI.Model)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		t.Setenv("CLOSEDAI_AI_MODEL", "gemini-2.5-flash")
		t.Setenv("GEMINI_API_KEY", "AIzaEnv")
		t.Setenv("TELEGRAM_BOT_TOKEN", "42:env")
		t.Setenv("WORKSPACE_DIR", "/srv/env-repo")
		t.Setenv("UNSAFE_MODE", "true")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.5-flash", cfg.AI.Model)
		assert.Equal(t, "AIzaEnv", cfg.AI.APIKey)
		assert.Equal(t, "42:env", cfg.Telegram.BotToken)
		assert.Equal(t, "/srv/env-repo", cfg.Workspace.Path)
		assert.True(t, cfg.Workspace.UnsafeMode)
	})

	t.Run("should prefer the prefixed variable", func(t *testing.T) {
		t.Setenv("CLOSEDAI_AI_API_KEY", "prefixed")
		t.Setenv("GEMINI_API_KEY", "plain")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "prefixed", cfg.AI.APIKey)
	})

	t.Run("should fail on malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ai: [unclosed"), 0600))

		_, err := Load(path)
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestLoaderWatch(t *testing.T) {
	t.Run("should require a loaded file", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, loader.Watch(func(*Config) {}))

		_, err := loader.Load()
		require.NoError(t, err)
		assert.ErrorContains(t, loader.Watch(func(*Config) {}), "no config file")
	})

	t.Run("should deliver the reloaded config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("telegram:\n  allowed_user_ids: [1]\n"), 0600))

		loader := NewLoader(path)
		_, err := loader.Load()
		require.NoError(t, err)

		var (
			mu  sync.Mutex
			got []int64
		)
		require.NoError(t, loader.Watch(func(cfg *Config) {
			mu.Lock()
			got = cfg.Telegram.AllowedUserIDs
			mu.Unlock()
		}))

		require.NoError(t, os.WriteFile(path, []byte("telegram:\n  allowed_user_ids: [1, 2]\n"), 0600))

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 2
		}, 5*time.Second, 20*time.Millisecond)
	})
}
