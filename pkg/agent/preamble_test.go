package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/closedai/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPreamble(t *testing.T) {
	t.Run("should list top-level entries without .git", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))
		require.NoError(t, os.Mkdir(filepath.Join(root, "src"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x"), 0644))

		turns := BuildPreamble("42", root)
		require.Len(t, turns, 2)
		assert.Equal(t, session.RoleUser, turns[0].Role)
		assert.Equal(t, "Initialize system.", turns[0].Text())
		assert.Equal(t, session.RoleModel, turns[1].Role)

		text := turns[1].Text()
		assert.Contains(t, text, "- go.mod\n- src/")
		assert.NotContains(t, text, ".git")
	})

	t.Run("should report an empty workspace", func(t *testing.T) {
		turns := BuildPreamble("42", t.TempDir())
		assert.Contains(t, turns[1].Text(), "The workspace is empty.")
	})

	t.Run("should cap long listings", func(t *testing.T) {
		root := t.TempDir()
		for i := 0; i < maxPreambleEntries+5; i++ {
			require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("f%03d", i)), nil, 0644))
		}

		text := BuildPreamble("42", root)[1].Text()
		assert.Contains(t, text, "... and 5 more")
	})

	t.Run("should mention an unreadable workspace", func(t *testing.T) {
		text := BuildPreamble("42", filepath.Join(t.TempDir(), "missing"))[1].Text()
		assert.Contains(t, text, "could not be listed")
	})
}
