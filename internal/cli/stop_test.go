package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("should register stop with a timeout flag", func(t *testing.T) {
		assert.True(t, hasCommand("stop"))

		out, err := execute(t, "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "--timeout")
	})

	t.Run("should fail when nothing is running", func(t *testing.T) {
		path, _ := writeDataDirConfig(t)

		_, err := execute(t, "--config", path, "stop")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}
