package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the tracing fields found in ctx to baseLogger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	c := baseLogger.With()

	if tc.TraceID != "" {
		c = c.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		c = c.Str("run_id", tc.RunID)
	}
	if tc.ConversationID != "" {
		c = c.Str("conversation_id", tc.ConversationID)
	}
	if tc.QueueItemID != "" {
		c = c.Str("queue_item_id", tc.QueueItemID)
	}

	return c.Logger()
}
