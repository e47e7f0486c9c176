package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/closedai/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitCommand(t *testing.T) {
	t.Run("should write the default config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "closedai", "config.yaml")

		out, err := execute(t, "--config", path, "config", "init", "--force=false", "--wizard=false")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "history_limit: 20")
	})

	t.Run("should not overwrite without force", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("data_dir: /srv/closedai\n"), 0600))

		_, err := execute(t, "--config", path, "config", "init", "--force=false", "--wizard=false")
		assert.ErrorIs(t, err, config.ErrConfigExists)

		_, err = execute(t, "--config", path, "config", "init", "--force=true", "--wizard=false")
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "/srv/closedai")
	})
}

func TestConfigShowCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  bot_token: \"123456789:secret\"\nai:\n  provider: anthropic\n"), 0600))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)

	assert.Contains(t, out, `"provider": "anthropic"`)
	assert.NotContains(t, out, "secret")
}
