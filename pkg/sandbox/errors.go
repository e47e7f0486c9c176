package sandbox

import "errors"

var (
	// ErrPathEscape is returned when a path resolves outside the workspace root
	ErrPathEscape = errors.New("access denied: path is outside of the workspace root")

	// ErrProtectedPath is returned when a path matches the protected-file denylist
	ErrProtectedPath = errors.New("access denied: path is protected")

	// ErrCommandDenied is returned when a shell command matches the denylist
	ErrCommandDenied = errors.New("access denied: dangerous shell command detected")

	// ErrEmptyCommand is returned when no command is given
	ErrEmptyCommand = errors.New("command cannot be empty")

	// ErrInvalidRoot is returned when the workspace root is unusable
	ErrInvalidRoot = errors.New("invalid workspace root")

	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrSandboxNotRunning is returned when the sandbox is not running
	ErrSandboxNotRunning = errors.New("sandbox is not running")

	// ErrSandboxAlreadyRunning is returned when the sandbox is already running
	ErrSandboxAlreadyRunning = errors.New("sandbox is already running")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")
)
