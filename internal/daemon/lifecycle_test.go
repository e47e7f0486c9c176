package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is far above any pid_max, so no process can own it.
const deadPID = 2147483646

func TestPIDFile_Acquire(t *testing.T) {
	t.Run("should write the current pid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data", "closedai.pid")
		pf := NewPIDFile(path)

		require.NoError(t, pf.Acquire())

		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
		assert.True(t, IsRunning(path))
	})

	t.Run("should replace a file left by a dead process", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "closedai.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0644))

		require.NoError(t, NewPIDFile(path).Acquire())

		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("should replace a garbled file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "closedai.pid")
		require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0644))

		require.NoError(t, NewPIDFile(path).Acquire())
		assert.True(t, IsRunning(path))
	})

	t.Run("should refuse while a live process owns the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "closedai.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0644))

		err := NewPIDFile(path).Acquire()
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	})
}

func TestPIDFile_Release(t *testing.T) {
	t.Run("should remove its own file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "closedai.pid")
		pf := NewPIDFile(path)
		require.NoError(t, pf.Acquire())

		require.NoError(t, pf.Release())
		assert.NoFileExists(t, path)
		assert.False(t, IsRunning(path))
	})

	t.Run("should keep a file owned by another process", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "closedai.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0644))

		require.NoError(t, NewPIDFile(path).Release())
		assert.FileExists(t, path)
	})

	t.Run("should ignore a missing file", func(t *testing.T) {
		assert.NoError(t, NewPIDFile(filepath.Join(t.TempDir(), "none.pid")).Release())
	})
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(deadPID))
}
