package coretools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harun/closedai/pkg/toolexecutor"
)

const patchFileDescription = "Replace one exact block of text in a file. The search text must occur exactly once; " +
	"include enough surrounding lines to make it unique."

func patchFileTool(opts Options) toolexecutor.ToolDefinition {
	policy := opts.Sandbox.Policy()
	return toolexecutor.ToolDefinition{
		Name:        "patch_file",
		Description: patchFileDescription,
		Category:    toolexecutor.CategoryWrite,
		KeyArg:      "path",
		Parameters: []toolexecutor.ToolParameter{
			pathParam(),
			{Name: "search", Type: "string", Description: "Exact text to find", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, err := requiredString(params, "path")
			if err != nil {
				return nil, err
			}
			target, err := policy.ResolvePath(pathValue)
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(target)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}

			updated, err := applyExactPatch(string(data), stringParam(params, "search"), stringParam(params, "replace"))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pathValue, err)
			}

			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := os.WriteFile(target, []byte(updated), info.Mode().Perm()); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Success: patched %s", pathValue), nil
		},
	}
}

// applyExactPatch replaces the single occurrence of search in content.
// Zero or multiple occurrences, overlapping ones included, are errors;
// nothing else in content changes.
func applyExactPatch(content, search, replace string) (string, error) {
	if search == "" {
		return "", fmt.Errorf("search text cannot be empty")
	}

	idx := strings.Index(content, search)
	if idx < 0 {
		return "", fmt.Errorf("search text not found")
	}
	if n := countOccurrences(content, search); n > 1 {
		return "", fmt.Errorf("search text is ambiguous: found %d matches, add more context", n)
	}
	return content[:idx] + replace + content[idx+len(search):], nil
}

// countOccurrences counts every start position of search in content.
func countOccurrences(content, search string) int {
	n := 0
	for from := 0; from <= len(content); {
		i := strings.Index(content[from:], search)
		if i < 0 {
			break
		}
		n++
		from += i + 1
	}
	return n
}
