// Package telegram connects the agent to a Telegram bot: it receives
// updates, answers system commands and delivers agent output.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/closedai/internal/config"
	"github.com/rs/zerolog"
)

// BatchLimit caps the updates fetched by one batch run.
const BatchLimit = 100

// API is the subset of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// Bot represents a Telegram bot instance
type Bot struct {
	api    API
	self   tgbotapi.User
	config config.TelegramConfig
	logger zerolog.Logger

	maxMessageLength int

	mu      sync.Mutex
	running bool
}

// UpdateFunc handles one update.
type UpdateFunc func(ctx context.Context, update tgbotapi.Update)

// New authenticates against the Bot API and creates a bot
func New(cfg config.TelegramConfig, maxMessageLength int, logger zerolog.Logger) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := NewWithAPI(api, api.Self, cfg, maxMessageLength, logger)
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// NewWithAPI creates a bot over an existing API client.
func NewWithAPI(api API, self tgbotapi.User, cfg config.TelegramConfig, maxMessageLength int, logger zerolog.Logger) *Bot {
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &Bot{
		api:              api,
		self:             self,
		config:           cfg,
		logger:           logger.With().Str("component", "telegram").Logger(),
		maxMessageLength: maxMessageLength,
	}
}

// Poll receives updates until ctx is done, handing each one to handle in
// its own goroutine. It waits for in-flight handlers before returning.
func (b *Bot) Poll(ctx context.Context, handle UpdateFunc) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info().Int("timeout", u.Timeout).Msg("Polling for updates")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info().Msg("Stopped polling")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle(ctx, update)
			}()
		}
	}
}

// Pending fetches updates after offset without waiting for new ones.
func (b *Bot) Pending(ctx context.Context, offset int) ([]tgbotapi.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	updates, err := b.api.GetUpdates(tgbotapi.UpdateConfig{
		Offset:         offset,
		Limit:          BatchLimit,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch updates: %w", err)
	}
	return updates, nil
}

// GetFileDirectURL resolves a file id to a download link.
func (b *Bot) GetFileDirectURL(fileID string) (string, error) {
	return b.api.GetFileDirectURL(fileID)
}

// Typing shows the typing indicator in a conversation.
func (b *Bot) Typing(ctx context.Context, conversationID string) error {
	chatID, err := ChatID(conversationID)
	if err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("failed to send typing action: %w", err)
	}
	return nil
}

// SetCommands publishes the command menu.
func (b *Bot) SetCommands(commands []tgbotapi.BotCommand) error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}
	b.logger.Debug().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}

// Username returns the bot's username
func (b *Bot) Username() string {
	return b.self.UserName
}

// IsRunning returns whether the bot is polling
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// ConversationID maps a chat to a conversation identifier.
func ConversationID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// ChatID parses a conversation identifier back into a chat id.
func ChatID(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram conversation id %q", conversationID)
	}
	return id, nil
}

// IsConflict reports whether err means another client is polling the same bot.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 409 {
		return true
	}
	return strings.Contains(err.Error(), "Conflict")
}
