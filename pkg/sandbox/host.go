package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HostSandbox runs commands on the host inside the workspace root after the
// policy checks pass.
type HostSandbox struct {
	config  Config
	policy  *Policy
	running bool
	mu      sync.RWMutex
}

// NewHostSandbox creates a new host-based sandbox
func NewHostSandbox(config Config, policy *Policy) (*HostSandbox, error) {
	if policy == nil {
		return nil, fmt.Errorf("policy is required")
	}
	if config.Root == "" {
		config.Root = policy.Root()
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HostSandbox{
		config: config,
		policy: policy,
	}, nil
}

// Start marks the sandbox ready after checking the root exists
func (h *HostSandbox) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrSandboxAlreadyRunning
	}

	info, err := os.Stat(h.config.Root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidRoot, h.config.Root)
	}

	log.Info().
		Str("root", h.config.Root).
		Bool("unsafe", h.policy.Unsafe()).
		Msg("Starting host sandbox")

	h.running = true
	return nil
}

// Stop marks the sandbox stopped
func (h *HostSandbox) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrSandboxNotRunning
	}

	log.Info().Msg("Stopping host sandbox")

	h.running = false
	return nil
}

// IsRunning returns whether the sandbox is running
func (h *HostSandbox) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Policy returns the safety policy in effect
func (h *HostSandbox) Policy() *Policy {
	return h.policy
}

// Shell runs command through bash -c after the shell denylist check
func (h *HostSandbox) Shell(ctx context.Context, command string) (ExecuteResult, error) {
	if err := h.policy.CheckCommand(command); err != nil {
		return ExecuteResult{}, err
	}
	return h.Execute(ctx, ExecuteRequest{
		Command: "bash",
		Args:    []string{"-c", command},
	})
}

// Execute runs a command in the workspace root
func (h *HostSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ExecuteResult{}, ErrSandboxNotRunning
	}
	h.mu.RUnlock()

	if req.Command == "" {
		return ExecuteResult{}, ErrEmptyCommand
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = h.config.Timeout
	}
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	cmd.Dir = h.config.Root
	cmd.Env = h.buildEnvironment(req.Env)

	stdout := &limitedBuffer{limit: h.config.MaxOutputBytes}
	stderr := &limitedBuffer{limit: h.config.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return ExecuteResult{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			ExitCode: -1,
			Duration: duration,
			Error:    ErrExecutionTimeout,
		}, ErrExecutionTimeout
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	result := ExecuteResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
	}

	if err != nil && exitCode == 0 {
		result.Error = err
	}

	log.Debug().
		Str("command", req.Command).
		Strs("args", req.Args).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Command executed in sandbox")

	return result, result.Error
}

// buildEnvironment forwards the configured host variables plus env
func (h *HostSandbox) buildEnvironment(env map[string]string) []string {
	result := []string{}
	for _, key := range h.config.PassEnv {
		if value, ok := os.LookupEnv(key); ok {
			result = append(result, fmt.Sprintf("%s=%s", key, value))
		}
	}
	if _, ok := os.LookupEnv("PATH"); !ok {
		result = append(result, "PATH=/usr/local/bin:/usr/bin:/bin")
	}

	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}

	return result
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte {
	if b.truncated {
		return append(b.buf.Bytes(), []byte("\n... [output truncated]")...)
	}
	return b.buf.Bytes()
}
