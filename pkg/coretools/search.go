package coretools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/closedai/pkg/toolexecutor"
)

const (
	defaultSearchResults = 100
	maxSearchFileSize    = 1 << 20
)

// skippedDirs are never descended into by search_repo.
var skippedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".next":        true,
}

var errSearchLimit = errors.New("search result limit reached")

func searchRepoTool(opts Options) toolexecutor.ToolDefinition {
	policy := opts.Sandbox.Policy()
	return toolexecutor.ToolDefinition{
		Name:        "search_repo",
		Description: "Search file contents recursively for a literal string. VCS and dependency directories are skipped.",
		Category:    toolexecutor.CategoryRead,
		KeyArg:      "query",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Text to search for", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search in (default '.')"},
			{Name: "ignore_case", Type: "boolean", Description: "Case-insensitive match"},
			{Name: "max_results", Type: "integer", Description: "Maximum matching lines (default 100)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query := stringParam(params, "query")
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			dir := strings.TrimSpace(stringParam(params, "path"))
			if dir == "" {
				dir = "."
			}
			root, err := policy.ResolvePath(dir)
			if err != nil {
				return nil, err
			}
			ignoreCase, _ := params["ignore_case"].(bool)
			limit := intParam(params, "max_results", defaultSearchResults)

			matches, err := searchTree(ctx, root, policy.Root(), query, ignoreCase, limit, policy.IsProtected)
			if err != nil && !errors.Is(err, errSearchLimit) {
				return nil, err
			}
			if len(matches) == 0 {
				return "No results found.", nil
			}
			out := strings.Join(matches, "\n")
			if errors.Is(err, errSearchLimit) {
				out += fmt.Sprintf("\n... [stopped after %d matches]", limit)
			}
			return out, nil
		},
	}
}

// searchTree walks root and returns "path:line: text" entries relative to base.
func searchTree(ctx context.Context, root, base, query string, ignoreCase bool, limit int, protected func(string) bool) ([]string, error) {
	needle := query
	if ignoreCase {
		needle = strings.ToLower(query)
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && (skippedDirs[d.Name()] || protected(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || protected(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSearchFileSize {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || isBinary(data) {
			return nil
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), maxSearchFileSize)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			hay := line
			if ignoreCase {
				hay = strings.ToLower(line)
			}
			if !strings.Contains(hay, needle) {
				continue
			}
			matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(line)))
			if len(matches) >= limit {
				return errSearchLimit
			}
		}
		return nil
	})

	return matches, err
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
