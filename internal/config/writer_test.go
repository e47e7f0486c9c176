package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMarshal(t *testing.T) {
	data, err := Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(data), "# closedai configuration")

	var doc map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "gemini", doc["ai"]["provider"])
	assert.Equal(t, "10m0s", doc["ai"]["timeout"])
	assert.Equal(t, "@every 60s", doc["queue"]["schedule"])
}

func TestWriteFile(t *testing.T) {
	t.Run("should write a file the loader reads back", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "config.yaml")
		cfg := DefaultConfig()
		cfg.Telegram.AllowedUserIDs = []int64{7}
		cfg.Chat.Debounce = 2 * time.Second
		require.NoError(t, WriteFile(path, cfg, false))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, loaded.Telegram.AllowedUserIDs)
		assert.Equal(t, 2*time.Second, loaded.Chat.Debounce)
		assert.Equal(t, "@every 60s", loaded.Queue.Schedule)
	})

	t.Run("should refuse to overwrite without force", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("keep"), 0600))

		assert.ErrorIs(t, WriteFile(path, DefaultConfig(), false), ErrConfigExists)
		assert.NoError(t, WriteFile(path, DefaultConfig(), true))
	})
}
