package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/closedai/pkg/sandbox"
	"github.com/harun/closedai/pkg/toolexecutor"
)

func runShellTool(opts Options) toolexecutor.ToolDefinition {
	sb := opts.Sandbox
	return toolexecutor.ToolDefinition{
		Name:        "run_shell",
		Description: "Run a bash command in the repository root and return its output. Destructive commands are refused.",
		Category:    toolexecutor.CategoryShell,
		KeyArg:      "command",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "Command line passed to bash -c", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, err := requiredString(params, "command")
			if err != nil {
				return nil, err
			}

			res, err := sb.Shell(ctx, command)
			if err != nil {
				return nil, err
			}
			return commandOutput(res)
		},
	}
}

// commandOutput turns a finished command into tool output. A non-zero exit
// is an error carrying the combined output.
func commandOutput(res sandbox.ExecuteResult) (string, error) {
	out := strings.TrimRight(res.Combined(), "\n")
	if res.ExitCode != 0 {
		if out == "" {
			return "", fmt.Errorf("command failed with exit code %d", res.ExitCode)
		}
		return "", fmt.Errorf("command failed with exit code %d:\n%s", res.ExitCode, out)
	}
	if out == "" {
		return "(no output)", nil
	}
	return out, nil
}
