package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("should build a config from answers", func(t *testing.T) {
		input := strings.Join([]string{
			"bad-token",
			"123:abc",
			"1001, 1002, x",
			"",
			"AIzaKey",
			"",
			"/srv/repo",
			"debug",
		}, "\n") + "\n"
		var out bytes.Buffer

		cfg, err := NewWizard(strings.NewReader(input), &out).Run()
		require.NoError(t, err)
		assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
		assert.Equal(t, []int64{1001, 1002}, cfg.Telegram.AllowedUserIDs)
		assert.Equal(t, "gemini", cfg.AI.Provider)
		assert.Equal(t, "AIzaKey", cfg.AI.APIKey)
		assert.Equal(t, "gemini-2.5-pro", cfg.AI.Model)
		assert.Equal(t, "/srv/repo", cfg.Workspace.Path)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Contains(t, out.String(), "invalid Telegram bot token format")
		assert.Contains(t, out.String(), `ignoring invalid user id "x"`)
	})

	t.Run("should require a model for other providers", func(t *testing.T) {
		input := "1:a\n\nopenai\nsk-1\n\ngpt-4.1\n/srv\n\n"
		var out bytes.Buffer

		cfg, err := NewWizard(strings.NewReader(input), &out).Run()
		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.AI.Provider)
		assert.Equal(t, "gpt-4.1", cfg.AI.Model)
		assert.Contains(t, out.String(), "model name is required")
	})

	t.Run("should fail when input ends early", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader(""), &bytes.Buffer{}).Run()
		assert.Error(t, err)
	})
}
