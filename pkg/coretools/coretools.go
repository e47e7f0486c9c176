// Package coretools registers the agent's workspace tools: file operations,
// repository search, exact-match patching, shell and git helpers, and reply.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/closedai/pkg/sandbox"
	"github.com/harun/closedai/pkg/toolexecutor"
)

// Replier sends an interim message to the user of a conversation.
type Replier interface {
	Reply(ctx context.Context, conversationID string, text string) error
}

// Options configures core tool registration.
type Options struct {
	Sandbox sandbox.Sandbox
	Replier Replier
}

// RegisterCoreTools registers every workspace tool on executor.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Sandbox == nil {
		return errors.New("sandbox is required")
	}

	tools := []toolexecutor.ToolDefinition{
		readFileTool(opts),
		writeFileTool(opts),
		listDirectoryTool(opts),
		deleteFileTool(opts),
		moveFileTool(opts),
		searchRepoTool(opts),
		patchFileTool(opts),
		runShellTool(opts),
	}
	tools = append(tools, gitTools(opts)...)
	if opts.Replier != nil {
		tools = append(tools, replyTool(opts))
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func stringParam(params map[string]interface{}, name string) string {
	v, _ := params[name].(string)
	return v
}

func requiredString(params map[string]interface{}, name string) (string, error) {
	v := strings.TrimSpace(stringParam(params, name))
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func intParam(params map[string]interface{}, name string, fallback int) int {
	switch v := params[name].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func toStringSlice(value interface{}) []string {
	switch raw := value.(type) {
	case []string:
		return raw
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func conversationID(ctx context.Context) string {
	if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil {
		return execCtx.ConversationID
	}
	return ""
}
