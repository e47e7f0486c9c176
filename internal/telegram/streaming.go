package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/closedai/internal/observability"
)

const (
	// DefaultMaxMessageLength keeps messages under Telegram's 4096 limit.
	DefaultMaxMessageLength = 4000

	truncatedSuffix = "\n\n... (message truncated)"
)

// Send delivers text to a conversation and returns the new message id.
// Markdown is tried first; when Telegram rejects it the text is resent plain.
func (b *Bot) Send(ctx context.Context, conversationID, text string) (string, error) {
	chatID, err := ChatID(conversationID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	text = b.truncate(text)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("Markdown rejected, resending as plain text")

		msg.ParseMode = ""
		sent, err = b.api.Send(msg)
		if err != nil {
			observability.RecordChannelError("send")
			return "", fmt.Errorf("failed to send message: %w", err)
		}
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("message_id", sent.MessageID).
		Msg("Message sent")

	return strconv.Itoa(sent.MessageID), nil
}

// Reply sends an interim message on behalf of the reply tool.
func (b *Bot) Reply(ctx context.Context, conversationID, text string) error {
	_, err := b.Send(ctx, conversationID, text)
	return err
}

// Edit replaces the text of a message sent earlier.
func (b *Bot) Edit(ctx context.Context, conversationID, messageID, text string) error {
	chatID, err := ChatID(conversationID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q", messageID)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	edit := tgbotapi.NewEditMessageText(chatID, id, b.truncate(text))
	edit.ParseMode = tgbotapi.ModeMarkdown
	_, err = b.api.Send(edit)
	if err == nil || isNotModified(err) {
		return nil
	}

	edit.ParseMode = ""
	_, err = b.api.Send(edit)
	if err == nil || isNotModified(err) {
		return nil
	}
	observability.RecordChannelError("edit")
	return fmt.Errorf("failed to update message: %w", err)
}

func (b *Bot) truncate(text string) string {
	if utf8.RuneCountInString(text) <= b.maxMessageLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:b.maxMessageLength]) + truncatedSuffix
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
