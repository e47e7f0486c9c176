package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/closedai/pkg/session"
	"github.com/rs/zerolog"
)

// MaxMediaSize is the largest attachment downloaded, matching the Bot API's
// own file download limit.
const MaxMediaSize = 20 * 1024 * 1024

// ErrMediaTooLarge is returned for attachments over MaxMediaSize.
var ErrMediaTooLarge = errors.New("attachment exceeds 20MB limit")

var extensionMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// Documents are only downloaded when their declared type is one the
// completion API accepts inline.
var documentMIME = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
	"audio/wav":       true,
	"audio/mpeg":      true,
	"audio/mp3":       true,
	"audio/aiff":      true,
	"audio/aac":       true,
	"audio/ogg":       true,
	"audio/flac":      true,
	"video/mp4":       true,
	"video/mpeg":      true,
	"video/mov":       true,
	"video/avi":       true,
	"video/x-flv":     true,
	"video/mpg":       true,
	"video/webm":      true,
	"video/wmv":       true,
	"video/3gpp":      true,
}

// FileURLResolver turns a file id into a download URL.
type FileURLResolver interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Media downloads message attachments as inline media.
type Media struct {
	files  FileURLResolver
	client *http.Client
	logger zerolog.Logger
}

// attachment is the file reference picked from a message.
type attachment struct {
	fileID string
	kind   string
	size   int
}

// NewMedia creates a media downloader
func NewMedia(files FileURLResolver, client *http.Client, logger zerolog.Logger) *Media {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Media{
		files:  files,
		client: client,
		logger: logger.With().Str("module", "media").Logger(),
	}
}

// Extract downloads the attachment of msg. It returns nil when the message
// carries none, or only a document of an unsupported type.
func (m *Media) Extract(ctx context.Context, msg *tgbotapi.Message) (*session.InlineMedia, error) {
	att, ok := pickAttachment(msg)
	if !ok {
		return nil, nil
	}
	if att.size > MaxMediaSize {
		return nil, ErrMediaTooLarge
	}

	m.logger.Debug().
		Str("file_id", att.fileID).
		Str("type", att.kind).
		Int64("chat_id", msg.Chat.ID).
		Msg("Media received")

	return m.Download(ctx, att.fileID)
}

// Download fetches a file by id.
func (m *Media) Download(ctx context.Context, fileID string) (*session.InlineMedia, error) {
	link, err := m.files.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		// The URL embeds the bot token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > MaxMediaSize {
		return nil, ErrMediaTooLarge
	}

	mimeType := resolveMIME(resp.Header.Get("Content-Type"), link, data)

	m.logger.Info().
		Str("file_id", fileID).
		Str("mime_type", mimeType).
		Int("size", len(data)).
		Msg("File downloaded")

	return &session.InlineMedia{Data: data, MIMEType: mimeType}, nil
}

func pickAttachment(msg *tgbotapi.Message) (attachment, bool) {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return attachment{fileID: photo.FileID, kind: "photo", size: photo.FileSize}, true
	case msg.Voice != nil:
		return attachment{fileID: msg.Voice.FileID, kind: "voice", size: msg.Voice.FileSize}, true
	case msg.Audio != nil:
		return attachment{fileID: msg.Audio.FileID, kind: "audio", size: msg.Audio.FileSize}, true
	case msg.Video != nil:
		return attachment{fileID: msg.Video.FileID, kind: "video", size: msg.Video.FileSize}, true
	case msg.Document != nil && documentMIME[strings.ToLower(msg.Document.MimeType)]:
		return attachment{fileID: msg.Document.FileID, kind: "document", size: msg.Document.FileSize}, true
	}
	return attachment{}, false
}

// resolveMIME prefers the served Content-Type, then the file extension,
// then content sniffing.
func resolveMIME(contentType, link string, data []byte) string {
	if mediaType := baseType(contentType); mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}

	ext := path.Ext(link)
	if u, err := url.Parse(link); err == nil {
		ext = path.Ext(u.Path)
	}
	if mimeType, ok := extensionMIME[strings.ToLower(ext)]; ok {
		return mimeType
	}

	if len(data) > 0 {
		return baseType(mimetype.Detect(data).String())
	}
	return "application/octet-stream"
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
