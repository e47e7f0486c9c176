package retryqueue

import (
	"context"
	"errors"
	"io"
	"regexp"
	"syscall"

	"github.com/harun/closedai/pkg/agent"
)

// Class says whether a failed request is worth retrying later.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

var transientPattern = regexp.MustCompile(`(?i)\b(429|503|504)\b|overloaded|unavailable|deadline exceeded|connection reset|connection refused|fetch failed|\beof\b`)

// Classify decides whether err is a transient upstream failure. Typed
// completion errors are trusted first; anything else is matched on its
// message.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	var llmErr *agent.LLMError
	if errors.As(err, &llmErr) && llmErr.Type != agent.ErrorTypeUnknown {
		if llmErr.IsRetryable() {
			return Transient
		}
		return Permanent
	}

	switch {
	case errors.Is(err, agent.ErrUnauthorized), errors.Is(err, context.Canceled):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return Transient
	}

	if transientPattern.MatchString(err.Error()) {
		return Transient
	}
	return Permanent
}
