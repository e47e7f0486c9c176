package agent

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/harun/closedai/pkg/session"
)

const (
	preambleRequest    = "Initialize system."
	maxPreambleEntries = 100
)

// BuildPreamble returns the fixed opening exchange placed before the
// history: a user request and a model turn describing the workspace.
func BuildPreamble(conversationID, root string) []session.Turn {
	var b strings.Builder
	b.WriteString("System initialized. Working in repository root ")
	b.WriteString(root)
	b.WriteString(".\n")

	entries, err := listWorkspace(root)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "The workspace could not be listed: %v\n", err)
	case len(entries) == 0:
		b.WriteString("The workspace is empty.\n")
	default:
		b.WriteString("Top-level entries:\n")
		for _, e := range entries {
			b.WriteString("- ")
			b.WriteString(e)
			b.WriteString("\n")
		}
	}

	return []session.Turn{
		{ConversationID: conversationID, Role: session.RoleUser, Parts: []session.Part{{Text: preambleRequest}}},
		{ConversationID: conversationID, Role: session.RoleModel, Parts: []session.Part{{Text: strings.TrimRight(b.String(), "\n")}}},
	}
}

func listWorkspace(root string) ([]string, error) {
	if root == "" {
		return nil, nil
	}
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(dirEntries))
	for _, entry := range dirEntries {
		name := entry.Name()
		if name == ".git" {
			continue
		}
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > maxPreambleEntries {
		extra := len(names) - maxPreambleEntries
		names = append(names[:maxPreambleEntries], fmt.Sprintf("... and %d more", extra))
	}
	return names, nil
}
