package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/closedai/pkg/agent"
	"github.com/harun/closedai/pkg/retryqueue"
	"github.com/harun/closedai/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Handle(ctx context.Context, params agent.RunParams) (agent.RunResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(agent.RunResult), args.Error(1)
}

type stubExtractor struct {
	media *session.InlineMedia
	err   error
}

func (s stubExtractor) Extract(ctx context.Context, msg *tgbotapi.Message) (*session.InlineMedia, error) {
	return s.media, s.err
}

type senderSet map[string]bool

func (s senderSet) Allowed(senderID string) bool { return s[senderID] }

func textUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 100,
		Message: &tgbotapi.Message{
			MessageID: 5,
			From:      &tgbotapi.User{ID: 7, UserName: "dev"},
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
			Text:      text,
		},
	}
}

func commandUpdate(command, args string) tgbotapi.Update {
	text := "/" + command
	if args != "" {
		text += " " + args
	}
	update := textUpdate(text)
	update.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command) + 1}}
	return update
}

func newTestHandler(t *testing.T, processor Processor, cfg HandlerConfig) (*Handler, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	cfg.Processor = processor
	cfg.Sender = sender
	cfg.Logger = zerolog.Nop()
	if cfg.Commands == nil {
		cfg.Commands = NewCommands(CommandsConfig{Sender: sender, Logger: zerolog.Nop()})
	}
	h, err := NewHandler(cfg)
	require.NoError(t, err)
	return h, sender
}

func TestNewHandler(t *testing.T) {
	_, err := NewHandler(HandlerConfig{})
	assert.Error(t, err)
}

func TestHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("should run a text message through the processor", func(t *testing.T) {
		processor := &mockProcessor{}
		processor.On("Handle", mock.Anything, agent.RunParams{
			ConversationID: "42",
			SenderID:       "7",
			Text:           "list files",
			RequestID:      "42:5",
		}).Return(agent.RunResult{Response: "a.txt"}, nil).Once()

		h, _ := newTestHandler(t, processor, HandlerConfig{})
		require.NoError(t, h.Handle(ctx, textUpdate("list files")))
		processor.AssertExpectations(t)
	})

	t.Run("should attach downloaded media and use the caption", func(t *testing.T) {
		media := &session.InlineMedia{Data: []byte{1, 2}, MIMEType: "image/png"}
		processor := &mockProcessor{}
		processor.On("Handle", mock.Anything, mock.MatchedBy(func(p agent.RunParams) bool {
			return p.Text == "what is this?" && len(p.Media) == 1 && p.Media[0].MIMEType == "image/png"
		})).Return(agent.RunResult{}, nil).Once()

		update := textUpdate("")
		update.Message.Caption = "what is this?"
		h, _ := newTestHandler(t, processor, HandlerConfig{Media: stubExtractor{media: media}})

		require.NoError(t, h.Handle(ctx, update))
		processor.AssertExpectations(t)
	})

	t.Run("should report a failed download and continue with the text", func(t *testing.T) {
		processor := &mockProcessor{}
		processor.On("Handle", mock.Anything, mock.MatchedBy(func(p agent.RunParams) bool {
			return p.Text == "see attached" && len(p.Media) == 0
		})).Return(agent.RunResult{}, nil).Once()

		h, sender := newTestHandler(t, processor, HandlerConfig{Media: stubExtractor{err: ErrMediaTooLarge}})
		require.NoError(t, h.Handle(ctx, textUpdate("see attached")))

		processor.AssertExpectations(t)
		assert.Equal(t, "⚠️ Could not download attachment: "+ErrMediaTooLarge.Error(), sender.last())
	})

	t.Run("should ignore messages without text or media", func(t *testing.T) {
		processor := &mockProcessor{}
		h, _ := newTestHandler(t, processor, HandlerConfig{})

		require.NoError(t, h.Handle(ctx, textUpdate("   ")))
		require.NoError(t, h.Handle(ctx, tgbotapi.Update{UpdateID: 1}))
		processor.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("should swallow queued and unauthorized outcomes", func(t *testing.T) {
		for _, outcome := range []error{
			fmt.Errorf("%w (item abc): upstream 503", retryqueue.ErrQueued),
			agent.ErrUnauthorized,
		} {
			processor := &mockProcessor{}
			processor.On("Handle", mock.Anything, mock.Anything).Return(agent.RunResult{}, outcome).Once()

			h, _ := newTestHandler(t, processor, HandlerConfig{})
			assert.NoError(t, h.Handle(ctx, textUpdate("hello")))
		}
	})

	t.Run("should return other failures", func(t *testing.T) {
		processor := &mockProcessor{}
		processor.On("Handle", mock.Anything, mock.Anything).Return(agent.RunResult{}, errors.New("store closed")).Once()

		h, _ := newTestHandler(t, processor, HandlerConfig{})
		assert.ErrorContains(t, h.Handle(ctx, textUpdate("hello")), "store closed")
	})
}

func TestHandler_Commands(t *testing.T) {
	ctx := context.Background()

	t.Run("should answer system commands without the model", func(t *testing.T) {
		processor := &mockProcessor{}
		h, sender := newTestHandler(t, processor, HandlerConfig{Access: senderSet{"7": true}})

		require.NoError(t, h.Handle(ctx, commandUpdate("ping", "")))
		assert.Equal(t, "🏓 Pong!", sender.last())
		processor.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("should deny commands to unknown senders", func(t *testing.T) {
		processor := &mockProcessor{}
		h, sender := newTestHandler(t, processor, HandlerConfig{Access: senderSet{"99": true}})

		require.NoError(t, h.Handle(ctx, commandUpdate("ping", "")))
		assert.Equal(t, accessDeniedNotice, sender.last())
	})

	t.Run("should pass unknown slash commands to the model", func(t *testing.T) {
		processor := &mockProcessor{}
		processor.On("Handle", mock.Anything, mock.MatchedBy(func(p agent.RunParams) bool {
			return p.Text == "/deploy staging"
		})).Return(agent.RunResult{}, nil).Once()

		h, _ := newTestHandler(t, processor, HandlerConfig{})
		require.NoError(t, h.Handle(ctx, commandUpdate("deploy", "staging")))
		processor.AssertExpectations(t)
	})
}

func TestParseCaption(t *testing.T) {
	assert.Equal(t, "text", ParseCaption(&tgbotapi.Message{Text: "text", Caption: "caption"}))
	assert.Equal(t, "caption", ParseCaption(&tgbotapi.Message{Caption: "caption"}))
}
