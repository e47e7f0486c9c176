package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleTool:
		return true
	}
	return false
}

// ToolCall is a structured action request emitted by the model.
type ToolCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`

	// ContinuationToken is provider state attached to the call. It must be
	// echoed back verbatim and is never inspected.
	ContinuationToken []byte `json:"continuation_token,omitempty"`
}

// ToolResult is the outcome of one tool call. Exactly one of Result or Error is set.
type ToolResult struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Response returns the result as the map shape sent back to the model.
func (r ToolResult) Response() map[string]interface{} {
	if r.Error != "" {
		return map[string]interface{}{"error": r.Error}
	}
	return map[string]interface{}{"result": r.Result}
}

// InlineMedia is binary content attached to a turn.
type InlineMedia struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Part is a tagged union; exactly one field is non-empty.
type Part struct {
	Text        string       `json:"text,omitempty"`
	ToolCall    *ToolCall    `json:"tool_call,omitempty"`
	ToolResult  *ToolResult  `json:"tool_result,omitempty"`
	InlineMedia *InlineMedia `json:"inline_media,omitempty"`
}

// Turn is one exchange unit in a conversation.
type Turn struct {
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Parts          []Part    `json:"parts"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewTextTurn creates a single-part text turn stamped with the current time.
func NewTextTurn(conversationID string, role Role, text string) Turn {
	return Turn{
		ConversationID: conversationID,
		Role:           role,
		Parts:          []Part{{Text: text}},
		Timestamp:      time.Now(),
	}
}

// ToolCalls returns the tool call parts of the turn in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// HasToolCalls reports whether the turn requests any tool call.
func (t Turn) HasToolCalls() bool {
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			return true
		}
	}
	return false
}

// HasToolResults reports whether the turn carries any tool result.
func (t Turn) HasToolResults() bool {
	for _, p := range t.Parts {
		if p.ToolResult != nil {
			return true
		}
	}
	return false
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Validate checks the turn before it is persisted.
func (t Turn) Validate() error {
	if err := ValidateConversationID(t.ConversationID); err != nil {
		return err
	}
	if !t.Role.Valid() {
		return fmt.Errorf("invalid role %q", t.Role)
	}
	if len(t.Parts) == 0 {
		return fmt.Errorf("turn must have at least one part")
	}
	return nil
}

// ValidateConversationID rejects IDs that are empty or could be used for injection.
func ValidateConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("conversation id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("conversation id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("conversation id cannot contain null bytes")
	}
	return nil
}

// Log is the append-only turn log consumed by the orchestrator.
type Log interface {
	AppendTurn(ctx context.Context, turn Turn) error
	// RecentTurns returns up to limit turns, newest first.
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error)
}
