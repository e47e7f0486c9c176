package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for one orchestrator run
	RunIDKey ContextKey = "run_id"
	// ConversationIDKey is the context key for the conversation being served
	ConversationIDKey ContextKey = "conversation_id"
	// QueueItemIDKey is the context key for a retry queue item being replayed
	QueueItemIDKey ContextKey = "queue_item_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID        string
	RunID          string
	ConversationID string
	QueueItemID    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithConversationID adds a conversation ID to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithQueueItemID adds a queue item ID to the context
func WithQueueItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, QueueItemIDKey, itemID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string {
	return stringValue(ctx, ConversationIDKey)
}

// GetQueueItemID retrieves the queue item ID from the context
func GetQueueItemID(ctx context.Context) string {
	return stringValue(ctx, QueueItemIDKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:        GetTraceID(ctx),
		RunID:          GetRunID(ctx),
		ConversationID: GetConversationID(ctx),
		QueueItemID:    GetQueueItemID(ctx),
	}
}

// NewRunContext starts a new orchestrator run for a conversation. The trace
// ID is kept if one is already present.
func NewRunContext(ctx context.Context, conversationID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	return WithConversationID(ctx, conversationID)
}
