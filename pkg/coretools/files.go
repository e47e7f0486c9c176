package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/closedai/pkg/toolexecutor"
)

const defaultReadLimit = 200000

func pathParam() toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: "path", Type: "string", Description: "Path relative to the repository root", Required: true}
}

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	policy := opts.Sandbox.Policy()
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a file in the repository.",
		Category:    toolexecutor.CategoryRead,
		KeyArg:      "path",
		Parameters: []toolexecutor.ToolParameter{
			pathParam(),
			{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 200000)"},
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

			data, truncated, err := readFileWithLimit(target, int64(intParam(params, "max_bytes", defaultReadLimit)))
			if err != nil {
				return nil, err
			}
			if truncated {
				return string(data) + "\n... [file truncated]", nil
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	policy := opts.Sandbox.Policy()
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Create or overwrite a file in the repository. Parent directories are created.",
		Category:    toolexecutor.CategoryWrite,
		KeyArg:      "path",
		Parameters: []toolexecutor.ToolParameter{
			pathParam(),
			{Name: "content", Type: "string", Description: "Full file content", Required: true},
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
			content := stringParam(params, "content")

			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return nil, err
			}

			return fmt.Sprintf("Success: wrote %d bytes to %s", len(content), pathValue), nil
		},
	}
}

func listDirectoryTool(opts Options) toolexecutor.ToolDefinition {
	policy := opts.Sandbox.Policy()
	return toolexecutor.ToolDefinition{
		Name:        "list_directory",
		Description: "List the entries of a directory in the repository. Directories end with '/'.",
		Category:    toolexecutor.CategoryRead,
		KeyArg:      "path",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory relative to the repository root (default '.')"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue := strings.TrimSpace(stringParam(params, "path"))
			if pathValue == "" {
				pathValue = "."
			}
			target, err := policy.ResolvePath(pathValue)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}

			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)

			if len(names) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(names, "\n"), nil
		},
	}
}

func deleteFileTool(opts Options) toolexecutor.ToolDefinition {
	policy := opts.Sandbox.Policy()
	return toolexecutor.ToolDefinition{
		Name:        "delete_file",
		Description: "Delete a file. Directories are removed only when recursive is true.",
		Category:    toolexecutor.CategoryWrite,
		KeyArg:      "path",
		Parameters: []toolexecutor.ToolParameter{
			pathParam(),
			{Name: "recursive", Type: "boolean", Description: "Remove a directory and its contents"},
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
			if target == policy.Root() {
				return nil, fmt.Errorf("refusing to delete the repository root")
			}

			info, err := os.Stat(target)
			if err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if info.IsDir() {
				if recursive, _ := params["recursive"].(bool); !recursive {
					return nil, fmt.Errorf("%s is a directory; set recursive to delete it", pathValue)
				}
				if err := os.RemoveAll(target); err != nil {
					return nil, err
				}
			} else if err := os.Remove(target); err != nil {
				return nil, err
			}

			return fmt.Sprintf("Success: deleted %s", pathValue), nil
		},
	}
}

func moveFileTool(opts Options) toolexecutor.ToolDefinition {
	policy := opts.Sandbox.Policy()
	return toolexecutor.ToolDefinition{
		Name:        "move_file",
		Description: "Move or rename a file or directory within the repository.",
		Category:    toolexecutor.CategoryWrite,
		KeyArg:      "source",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "source", Type: "string", Description: "Current path", Required: true},
			{Name: "destination", Type: "string", Description: "New path", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			source, err := requiredString(params, "source")
			if err != nil {
				return nil, err
			}
			destination, err := requiredString(params, "destination")
			if err != nil {
				return nil, err
			}
			src, err := policy.ResolvePath(source)
			if err != nil {
				return nil, err
			}
			dst, err := policy.ResolvePath(destination)
			if err != nil {
				return nil, err
			}

			if _, err := os.Stat(src); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return nil, err
			}
			if err := os.Rename(src, dst); err != nil {
				return nil, err
			}

			return fmt.Sprintf("Success: moved %s to %s", source, destination), nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, false, err
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("%s is a directory", filepath.Base(path))
	}

	var buf bytes.Buffer
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	truncated := false
	extra := make([]byte, 1)
	if n, _ := file.Read(extra); n > 0 {
		truncated = true
	}
	return buf.Bytes(), truncated, nil
}
