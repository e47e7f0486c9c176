package agent

import (
	"context"
	"time"

	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/toolexecutor"
)

// MaxTurns is the default number of completion calls per run.
const MaxTurns = 10

// DefaultSystemPrompt tells the model how to work in the repository.
const DefaultSystemPrompt = `You are closedai, a coding agent that works inside a single git repository on behalf of the user chatting with you.
Use the tools to inspect and change files, search the code and run commands. Paths are relative to the repository root.
Prefer patch_file for small edits and write_file for new files. Read a file before you change it.
Keep replies short and concrete. When you are done, say what you changed.
Changes are committed and pushed automatically after you finish, so do not commit unless asked.`

// Settings tunes a Runner.
type Settings struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	SystemPrompt  string
	WorkspaceRoot string

	MaxTurns          int
	Debounce          time.Duration
	CompletionTimeout time.Duration
	ToolTimeout       time.Duration

	// ToolPolicy limits which registered tools are offered to the model.
	ToolPolicy *toolexecutor.ToolPolicy
}

// DefaultSettings returns default runner settings
func DefaultSettings() Settings {
	return Settings{
		Model:             "gemini-2.5-pro",
		SystemPrompt:      DefaultSystemPrompt,
		MaxTurns:          MaxTurns,
		Debounce:          time.Second,
		CompletionTimeout: 10 * time.Minute,
		ToolTimeout:       2 * time.Minute,
	}
}

// RunParams contains input parameters for one run
type RunParams struct {
	ConversationID string                `json:"conversation_id"`
	SenderID       string                `json:"sender_id,omitempty"`
	Text           string                `json:"text"`
	Media          []session.InlineMedia `json:"media,omitempty"`

	// QueueItemID is set when the run replays a queued request.
	QueueItemID string `json:"queue_item_id,omitempty"`

	// RequestID deduplicates redelivered requests.
	RequestID string `json:"request_id,omitempty"`
}

// RunResult contains output from a run
type RunResult struct {
	ConversationID  string `json:"conversation_id"`
	Response        string `json:"response"`
	Turns           int    `json:"turns"`
	ToolCalls       int    `json:"tool_calls"`
	BudgetExhausted bool   `json:"budget_exhausted,omitempty"`
}

// Channel delivers text to the user of a conversation.
type Channel interface {
	Send(ctx context.Context, conversationID, text string) (string, error)
	Edit(ctx context.Context, conversationID, messageID, text string) error
}

// TypingIndicator is implemented by channels that can show activity.
type TypingIndicator interface {
	Typing(ctx context.Context, conversationID string) error
}

// AccessPolicy decides whether a sender may use the agent.
type AccessPolicy interface {
	Allowed(senderID string) bool
}

// Reconciler commits the workspace after a run.
type Reconciler interface {
	Reconcile(ctx context.Context, conversationID string) error
}
