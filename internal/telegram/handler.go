package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/pkg/agent"
	"github.com/harun/closedai/pkg/retryqueue"
	"github.com/harun/closedai/pkg/session"
	"github.com/rs/zerolog"
)

const accessDeniedNotice = "⛔ Access Denied"

// Processor runs a request through the agent, queueing it on transient failure.
type Processor interface {
	Handle(ctx context.Context, params agent.RunParams) (agent.RunResult, error)
}

// Extractor downloads the attachment of a message.
type Extractor interface {
	Extract(ctx context.Context, msg *tgbotapi.Message) (*session.InlineMedia, error)
}

// HandlerConfig holds handler dependencies
type HandlerConfig struct {
	Processor Processor
	Commands  *Commands
	Media     Extractor
	Access    agent.AccessPolicy
	Sender    Sender
	Logger    zerolog.Logger
}

// Handler turns incoming updates into commands or agent runs.
type Handler struct {
	processor Processor
	commands  *Commands
	media     Extractor
	access    agent.AccessPolicy
	sender    Sender
	logger    zerolog.Logger
}

// NewHandler creates a new update handler
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Processor == nil {
		return nil, errors.New("processor is required")
	}
	return &Handler{
		processor: cfg.Processor,
		commands:  cfg.Commands,
		media:     cfg.Media,
		access:    cfg.Access,
		sender:    cfg.Sender,
		logger:    cfg.Logger.With().Str("module", "handler").Logger(),
	}, nil
}

// Handle processes one update. Failures are reported to the conversation by
// the processor, so only unexpected errors are returned.
func (h *Handler) Handle(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return nil
	}
	observability.RecordMessageReceived()

	conversationID := ConversationID(msg.Chat.ID)
	senderID := strconv.FormatInt(msg.From.ID, 10)
	logger := h.logger.With().
		Str("conversation_id", conversationID).
		Str("sender_id", senderID).
		Int("update_id", update.UpdateID).
		Logger()

	if msg.IsCommand() && h.commands != nil && h.commands.Has(msg.Command()) {
		if h.access != nil && !h.access.Allowed(senderID) {
			logger.Warn().Str("command", msg.Command()).Msg("Command from unauthorized sender")
			h.reply(ctx, conversationID, accessDeniedNotice)
			return nil
		}
		return h.commands.Handle(ctx, CommandContext{
			ConversationID: conversationID,
			SenderID:       senderID,
			Command:        msg.Command(),
			Args:           strings.Fields(msg.CommandArguments()),
		})
	}

	text := ParseCaption(msg)
	var media []session.InlineMedia
	if h.media != nil {
		m, err := h.media.Extract(ctx, msg)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to download attachment")
			h.reply(ctx, conversationID, fmt.Sprintf("⚠️ Could not download attachment: %v", err))
		} else if m != nil {
			media = append(media, *m)
		}
	}

	if strings.TrimSpace(text) == "" && len(media) == 0 {
		logger.Debug().Msg("Ignoring message without text or media")
		return nil
	}

	logger.Debug().
		Int("media", len(media)).
		Int("text_length", len(text)).
		Msg("Message received")

	_, err := h.processor.Handle(ctx, agent.RunParams{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Media:          media,
		RequestID:      fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, retryqueue.ErrQueued), errors.Is(err, agent.ErrUnauthorized):
		logger.Info().Err(err).Msg("Request not completed")
		return nil
	default:
		return err
	}
}

func (h *Handler) reply(ctx context.Context, conversationID, text string) {
	if h.sender == nil {
		return
	}
	if _, err := h.sender.Send(ctx, conversationID, text); err != nil {
		h.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to send reply")
	}
}

// ParseCaption extracts the text of a message, falling back to its caption.
func ParseCaption(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}
