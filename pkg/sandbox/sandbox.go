package sandbox

import (
	"context"
	"time"
)

// Config defines sandbox configuration
type Config struct {
	// Root is the workspace directory commands run in
	Root string `json:"root"`

	// Timeout limits execution time of a single command
	Timeout time.Duration `json:"timeout"`

	// MaxOutputBytes caps captured stdout and stderr each; 0 means unlimited
	MaxOutputBytes int `json:"max_output_bytes"`

	// PassEnv lists host environment variables forwarded to commands
	PassEnv []string `json:"pass_env"`
}

// ExecuteRequest represents a sandbox execution request
type ExecuteRequest struct {
	// Command is the command to execute
	Command string `json:"command"`

	// Args are the command arguments
	Args []string `json:"args"`

	// Env are extra environment variables
	Env map[string]string `json:"env"`

	// Stdin is the standard input
	Stdin []byte `json:"stdin"`

	// Timeout overrides Config.Timeout when non-zero
	Timeout time.Duration `json:"timeout"`
}

// ExecuteResult represents a sandbox execution result
type ExecuteResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Error    error         `json:"error,omitempty"`
}

// Combined returns stdout followed by stderr.
func (r ExecuteResult) Combined() string {
	if len(r.Stderr) == 0 {
		return string(r.Stdout)
	}
	if len(r.Stdout) == 0 {
		return string(r.Stderr)
	}
	return string(r.Stdout) + "\n" + string(r.Stderr)
}

// Sandbox defines the interface for policy-checked command execution
type Sandbox interface {
	// Execute runs a command in the workspace root
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)

	// Shell runs a command line through bash after the shell denylist check
	Shell(ctx context.Context, command string) (ExecuteResult, error)

	// Policy returns the safety policy in effect
	Policy() *Policy
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        2 * time.Minute,
		MaxOutputBytes: 1 << 20,
		PassEnv: []string{
			"PATH", "HOME", "USER", "LANG", "TERM",
			"GOPATH", "GOCACHE", "GOMODCACHE",
			"SSH_AUTH_SOCK", "GIT_SSH_COMMAND",
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.Root == "" {
		return ErrInvalidRoot
	}
	if cfg.Timeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}
