package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func serveFile(t *testing.T, contentType string, body []byte, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMedia_Extract(t *testing.T) {
	ctx := context.Background()

	t.Run("should download the largest photo size", func(t *testing.T) {
		srv := serveFile(t, "application/octet-stream", pngHeader, http.StatusOK)
		api := newFakeAPI()
		api.fileURL = srv.URL + "/file/bot123/photos/file_1.jpg"

		media, err := NewMedia(api, srv.Client(), zerolog.Nop()).Extract(ctx, &tgbotapi.Message{
			Chat:  &tgbotapi.Chat{ID: 42},
			Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
		})
		require.NoError(t, err)
		require.NotNil(t, media)
		assert.Equal(t, []string{"large"}, api.fileIDs)
		assert.Equal(t, "image/jpeg", media.MIMEType)
		assert.Equal(t, pngHeader, media.Data)
	})

	t.Run("should skip documents of unsupported types", func(t *testing.T) {
		api := newFakeAPI()
		media, err := NewMedia(api, nil, zerolog.Nop()).Extract(ctx, &tgbotapi.Message{
			Chat:     &tgbotapi.Chat{ID: 42},
			Document: &tgbotapi.Document{FileID: "zip", MimeType: "application/zip"},
		})
		require.NoError(t, err)
		assert.Nil(t, media)
		assert.Empty(t, api.fileIDs)
	})

	t.Run("should refuse attachments declared over the limit", func(t *testing.T) {
		api := newFakeAPI()
		_, err := NewMedia(api, nil, zerolog.Nop()).Extract(ctx, &tgbotapi.Message{
			Chat:  &tgbotapi.Chat{ID: 42},
			Video: &tgbotapi.Video{FileID: "big", FileSize: MaxMediaSize + 1},
		})
		assert.ErrorIs(t, err, ErrMediaTooLarge)
		assert.Empty(t, api.fileIDs)
	})

	t.Run("should return nothing for plain text", func(t *testing.T) {
		media, err := NewMedia(newFakeAPI(), nil, zerolog.Nop()).Extract(ctx, &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 42},
			Text: "hello",
		})
		require.NoError(t, err)
		assert.Nil(t, media)
	})
}

func TestMedia_Download(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep a served content type", func(t *testing.T) {
		srv := serveFile(t, "audio/ogg; codecs=opus", []byte("OggS"), http.StatusOK)
		api := newFakeAPI()
		api.fileURL = srv.URL + "/voice/file_2.oga"

		media, err := NewMedia(api, srv.Client(), zerolog.Nop()).Download(ctx, "voice")
		require.NoError(t, err)
		assert.Equal(t, "audio/ogg", media.MIMEType)
	})

	t.Run("should fail on a non-200 status", func(t *testing.T) {
		srv := serveFile(t, "text/plain", []byte("gone"), http.StatusNotFound)
		api := newFakeAPI()
		api.fileURL = srv.URL + "/file.png"

		_, err := NewMedia(api, srv.Client(), zerolog.Nop()).Download(ctx, "f")
		assert.ErrorContains(t, err, "404")
	})

	t.Run("should fail when the file cannot be resolved", func(t *testing.T) {
		_, err := NewMedia(newFakeAPI(), nil, zerolog.Nop()).Download(ctx, "missing")
		assert.Error(t, err)
	})
}

func TestResolveMIME(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		link        string
		data        []byte
		expected    string
	}{
		{"served type wins", "image/webp", "https://x/file.png", nil, "image/webp"},
		{"extension for octet-stream", "application/octet-stream", "https://x/a/b.OGG", nil, "audio/ogg"},
		{"extension ignores query", "", "https://x/a/b.mp4?sig=1", nil, "video/mp4"},
		{"sniffed when extension unknown", "", "https://x/a/blob", pngHeader, "image/png"},
		{"octet-stream when nothing is known", "", "https://x/a/blob", nil, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run("should resolve "+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveMIME(tt.contentType, tt.link, tt.data))
		})
	}
}
