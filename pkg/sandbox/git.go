package sandbox

import (
	"context"
	"strings"
)

// Git runs git with args in the workspace root. The command line is checked
// against the shell denylist first; free-text values of -m are left out of
// the check so commit messages cannot trip it.
func Git(ctx context.Context, sb Sandbox, args ...string) (ExecuteResult, error) {
	if err := sb.Policy().CheckCommand(gitCommandLine(args)); err != nil {
		return ExecuteResult{}, err
	}
	return sb.Execute(ctx, ExecuteRequest{Command: "git", Args: args})
}

func gitCommandLine(args []string) string {
	parts := []string{"git"}
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if arg == "-m" || arg == "--message" {
			skipNext = true
			continue
		}
		if strings.HasPrefix(arg, "--message=") {
			continue
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// IsGitRepo reports whether the workspace root is inside a git work tree.
func IsGitRepo(ctx context.Context, sb Sandbox) bool {
	res, err := sb.Execute(ctx, ExecuteRequest{Command: "git", Args: []string{"rev-parse", "--is-inside-work-tree"}})
	return err == nil && res.ExitCode == 0 && strings.TrimSpace(string(res.Stdout)) == "true"
}
