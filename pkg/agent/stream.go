package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/harun/closedai/internal/observability"
	"github.com/rs/zerolog"
)

// streamFlusher mirrors streamed text into one chat message per model turn.
// The first flush sends the message and later flushes edit it; flushes are
// debounced so the channel sees at most one update per interval.
type streamFlusher struct {
	ctx            context.Context
	channel        Channel
	conversationID string
	debounce       time.Duration
	logger         zerolog.Logger

	mu        sync.Mutex
	text      strings.Builder
	sent      string
	messageID string
	timer     *time.Timer
}

func newStreamFlusher(ctx context.Context, channel Channel, conversationID string, debounce time.Duration, logger zerolog.Logger) *streamFlusher {
	return &streamFlusher{
		ctx:            ctx,
		channel:        channel,
		conversationID: conversationID,
		debounce:       debounce,
		logger:         logger,
	}
}

// Append adds streamed text and schedules a flush.
func (f *streamFlusher) Append(delta string) {
	if delta == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.text.WriteString(delta)
	if f.timer == nil {
		f.timer = time.AfterFunc(f.debounce, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.timer = nil
			f.flushLocked()
		})
	}
}

// Flush delivers pending text immediately.
func (f *streamFlusher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.flushLocked()
}

// Reset flushes and starts a new message for the next model turn.
func (f *streamFlusher) Reset() {
	f.Flush()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.text.Reset()
	f.sent = ""
	f.messageID = ""
}

func (f *streamFlusher) flushLocked() {
	if f.channel == nil {
		return
	}
	text := strings.TrimSpace(f.text.String())
	if text == "" || text == f.sent {
		return
	}

	if f.messageID == "" {
		id, err := f.channel.Send(f.ctx, f.conversationID, text)
		if err != nil {
			observability.RecordChannelError("send")
			f.logger.Warn().Err(err).Msg("Failed to send streamed text")
			return
		}
		f.messageID = id
	} else if err := f.channel.Edit(f.ctx, f.conversationID, f.messageID, text); err != nil {
		observability.RecordChannelError("edit")
		f.logger.Warn().Err(err).Msg("Failed to edit streamed text")
		return
	}
	f.sent = text
}
