package reconcile

import "fmt"

// Stage names the git step a reconciliation error happened in.
type Stage string

const (
	StageStatus Stage = "status"
	StageAdd    Stage = "add"
	StageDiff   Stage = "diff"
	StageCommit Stage = "commit"
	StagePush   Stage = "push"
)

// Error is a failed reconciliation step. Output carries git's own message.
type Error struct {
	Stage  Stage
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git %s failed: %s", e.Stage, e.Output)
	}
	return fmt.Sprintf("git %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
