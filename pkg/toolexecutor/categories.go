package toolexecutor

import "strings"

// ToolCategory groups tools for logging and policy decisions
type ToolCategory string

const (
	CategoryRead  ToolCategory = "read"
	CategoryWrite ToolCategory = "write"
	CategoryShell ToolCategory = "shell"
	CategoryVCS   ToolCategory = "vcs"
	CategoryChat  ToolCategory = "chat"
)

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryVCS,
		CategoryChat,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// Mutating reports whether tools in the category may change the workspace.
func (c ToolCategory) Mutating() bool {
	switch c {
	case CategoryWrite, CategoryShell, CategoryVCS:
		return true
	}
	return false
}
