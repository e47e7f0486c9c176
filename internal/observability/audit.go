package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one entry of the instruction log: a tool call, a system
// command or a queue transition attributed to a conversation.
type AuditEvent struct {
	Type           string                 `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Action         string                 `json:"action"`
	Status         string                 `json:"status"`
	Summary        string                 `json:"summary,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	TraceID        string                 `json:"trace_id,omitempty"`
}

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
	path   string
}

// NewAuditLogger opens (or creates) the audit file at path. An empty path
// writes to io.Discard.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		return &AuditLogger{logger: zerolog.New(io.Discard)}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLogger{
		logger: zerolog.New(file),
		file:   file,
		path:   path,
	}, nil
}

// NopAuditLogger returns a logger that drops every event.
func NopAuditLogger() *AuditLogger {
	return &AuditLogger{logger: zerolog.New(io.Discard)}
}

// Record emits an audit event to the log file and as a span event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.conversation_id", event.ConversationID),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("event_type", event.Type).
		Time("timestamp", event.Timestamp).
		Str("conversation_id", event.ConversationID).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("summary", event.Summary).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Send()
}

// Recent returns the last n events, oldest first.
func (a *AuditLogger) Recent(n int) ([]AuditEvent, error) {
	if a == nil || a.path == "" || n <= 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	ring := make([]AuditEvent, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return ring, nil
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// RecordTool records one tool invocation.
func (a *AuditLogger) RecordTool(ctx context.Context, conversationID, tool, category, summary, status string) {
	a.Record(ctx, AuditEvent{
		Type:           "tool",
		ConversationID: conversationID,
		Action:         tool,
		Status:         status,
		Summary:        summary,
		Metadata:       map[string]interface{}{"category": category},
	})
}

// RecordCommand records a system command handled without the model.
func (a *AuditLogger) RecordCommand(ctx context.Context, conversationID, command, status string) {
	a.Record(ctx, AuditEvent{
		Type:           "command",
		ConversationID: conversationID,
		Action:         command,
		Status:         status,
	})
}
