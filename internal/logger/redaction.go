package logger

import (
	"io"
	"regexp"
	"strings"
	"sync"
)

const redacted = "[REDACTED]"

// minSecretLen keeps short config values from blanking ordinary words.
const minSecretLen = 8

var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
	// bot tokens, bare or inside api.telegram.org/bot<token>/ URLs
	regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`),
	regexp.MustCompile(`password["\s:=]+[^\s"]+`),
	regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
}

// Redactor masks credentials before log bytes reach a writer. Known
// secret values (the configured bot token and API key) are replaced
// verbatim, everything else by pattern.
type Redactor struct {
	mu       sync.RWMutex
	secrets  []string
	patterns []*regexp.Regexp
}

func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{patterns: append([]*regexp.Regexp(nil), credentialPatterns...)}
	for _, s := range secrets {
		r.AddSecret(s)
	}
	return r
}

// AddSecret registers a literal value to mask. Values shorter than
// minSecretLen are ignored.
func (r *Redactor) AddSecret(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.secrets {
		if s == secret {
			return
		}
	}
	r.secrets = append(r.secrets, secret)
}

func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it on.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers account for their own bytes.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
