package coretools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/closedai/pkg/sandbox"
	"github.com/harun/closedai/pkg/toolexecutor"
)

func gitTools(opts Options) []toolexecutor.ToolDefinition {
	sb := opts.Sandbox
	policy := sb.Policy()

	run := func(ctx context.Context, args ...string) (interface{}, error) {
		res, err := sandbox.Git(ctx, sb, args...)
		if err != nil {
			return nil, err
		}
		return commandOutput(res)
	}

	// relPaths resolves each path through the sandbox and returns it relative to the root.
	relPaths := func(paths []string) ([]string, error) {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			full, err := policy.ResolvePath(p)
			if err != nil {
				return nil, err
			}
			out = append(out, policy.Relative(full))
		}
		return out, nil
	}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "git_status",
			Description: "Show the working tree status.",
			Category:    toolexecutor.CategoryVCS,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return run(ctx, "status", "--short", "--branch")
			},
		},
		{
			Name:        "git_log",
			Description: "Show recent commits, one per line.",
			Category:    toolexecutor.CategoryVCS,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "limit", Type: "integer", Description: "Number of commits (default 10)"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				limit := intParam(params, "limit", 10)
				return run(ctx, "log", "--oneline", "--decorate", "-n", strconv.Itoa(limit))
			},
		},
		{
			Name:        "git_diff",
			Description: "Show changes in the working tree, or staged changes when staged is true.",
			Category:    toolexecutor.CategoryVCS,
			KeyArg:      "path",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "staged", Type: "boolean", Description: "Show staged changes"},
				{Name: "path", Type: "string", Description: "Limit the diff to this path"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				args := []string{"diff"}
				if staged, _ := params["staged"].(bool); staged {
					args = append(args, "--cached")
				}
				if p := strings.TrimSpace(stringParam(params, "path")); p != "" {
					paths, err := relPaths([]string{p})
					if err != nil {
						return nil, err
					}
					args = append(args, "--")
					args = append(args, paths...)
				}
				return run(ctx, args...)
			},
		},
		{
			Name:        "git_add",
			Description: "Stage paths for commit (default: everything).",
			Category:    toolexecutor.CategoryVCS,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "paths", Type: "array", Items: "string", Description: "Paths to stage"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				paths := toStringSlice(params["paths"])
				if len(paths) == 0 {
					return run(ctx, "add", "-A")
				}
				rel, err := relPaths(paths)
				if err != nil {
					return nil, err
				}
				return run(ctx, append([]string{"add", "--"}, rel...)...)
			},
		},
		{
			Name:        "git_commit",
			Description: "Commit staged changes with a message.",
			Category:    toolexecutor.CategoryVCS,
			KeyArg:      "message",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "message", Type: "string", Description: "Commit message", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				message, err := requiredString(params, "message")
				if err != nil {
					return nil, err
				}
				return run(ctx, "commit", "-m", message)
			},
		},
		{
			Name:        "git_push",
			Description: "Push the current branch to a remote.",
			Category:    toolexecutor.CategoryVCS,
			KeyArg:      "remote",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "remote", Type: "string", Description: "Remote name (default origin)"},
				{Name: "branch", Type: "string", Description: "Branch to push (default current)"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				remote := strings.TrimSpace(stringParam(params, "remote"))
				if remote == "" {
					remote = "origin"
				}
				branch := strings.TrimSpace(stringParam(params, "branch"))
				if branch == "" {
					branch = "HEAD"
				}
				return run(ctx, "push", remote, branch)
			},
		},
		{
			Name:        "git_branch",
			Description: "List branches, or create one when name is given.",
			Category:    toolexecutor.CategoryVCS,
			KeyArg:      "name",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "name", Type: "string", Description: "Branch to create"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				name := strings.TrimSpace(stringParam(params, "name"))
				if name == "" {
					return run(ctx, "branch", "--list")
				}
				if strings.HasPrefix(name, "-") {
					return nil, fmt.Errorf("invalid branch name %q", name)
				}
				return run(ctx, "branch", name)
			},
		},
		{
			Name:        "git_checkout",
			Description: "Switch to a branch or commit, optionally creating the branch.",
			Category:    toolexecutor.CategoryVCS,
			KeyArg:      "ref",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "ref", Type: "string", Description: "Branch or commit", Required: true},
				{Name: "create", Type: "boolean", Description: "Create the branch first"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				ref, err := requiredString(params, "ref")
				if err != nil {
					return nil, err
				}
				if strings.HasPrefix(ref, "-") {
					return nil, fmt.Errorf("invalid ref %q", ref)
				}
				if create, _ := params["create"].(bool); create {
					return run(ctx, "checkout", "-b", ref)
				}
				return run(ctx, "checkout", ref)
			},
		},
	}
}
