package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/harun/closedai/pkg/agent"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"should retry rate limits", &agent.LLMError{Type: agent.ErrorTypeRateLimit, StatusCode: 429}, Transient},
		{"should retry typed 503s", &agent.LLMError{Type: agent.ErrorTypeTransient, StatusCode: 503}, Transient},
		{"should not retry auth errors", &agent.LLMError{Type: agent.ErrorTypeAuth, StatusCode: 401}, Permanent},
		{"should not retry bad requests", &agent.LLMError{Type: agent.ErrorTypeBadRequest, StatusCode: 400}, Permanent},
		{"should fall back to the message of unknown llm errors", &agent.LLMError{Type: agent.ErrorTypeUnknown, Err: errors.New("model is overloaded")}, Transient},
		{"should retry wrapped deadlines", fmt.Errorf("completion failed: %w", context.DeadlineExceeded), Transient},
		{"should retry EOF", io.ErrUnexpectedEOF, Transient},
		{"should retry connection resets", fmt.Errorf("read: %w", syscall.ECONNRESET), Transient},
		{"should match 504 in text", errors.New("upstream returned 504 Gateway Timeout"), Transient},
		{"should match unavailable wording", errors.New("Service Unavailable"), Transient},
		{"should match fetch failed", errors.New("TypeError: fetch failed"), Transient},
		{"should match connection refused", errors.New("dial tcp: connection refused"), Transient},
		{"should not retry cancellation", context.Canceled, Permanent},
		{"should not retry unauthorized senders", agent.ErrUnauthorized, Permanent},
		{"should not retry invalid arguments", errors.New("invalid argument: contents"), Permanent},
		{"should not match numbers inside other numbers", errors.New("id 15030 not found"), Permanent},
		{"should treat nil as permanent", nil, Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
}
