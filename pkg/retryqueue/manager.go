// Package retryqueue defers requests that failed on a transient upstream
// error and replays them later, one claimed item at a time.
package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/internal/tracing"
	"github.com/harun/closedai/pkg/agent"
	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	queuedNotice = "⏳ The AI service is temporarily unavailable. Your request has been queued and will be retried automatically."

	// DefaultStaleAfter is how long an item may stay processing before it is
	// considered abandoned.
	DefaultStaleAfter = 30 * time.Minute

	resetTimeout = 5 * time.Second
)

// ErrQueued is returned by Handle when a request was deferred.
var ErrQueued = errors.New("request queued for retry")

// Runner runs one request through the turn loop.
type Runner interface {
	Run(ctx context.Context, params agent.RunParams) (agent.RunResult, error)
}

// Store persists queue items.
type Store interface {
	EnqueueItem(ctx context.Context, item session.QueueItem) error
	ClaimNextPending(ctx context.Context) (*session.QueueItem, error)
	ResetToPending(ctx context.Context, id string) error
	DeleteQueueItem(ctx context.Context, id string) error
	ListQueueItems(ctx context.Context) ([]session.QueueItem, error)
	CountPending(ctx context.Context) (int, error)
	RecoverStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Notifier reports queue outcomes to the conversation.
type Notifier interface {
	Send(ctx context.Context, conversationID, text string) (string, error)
}

// Config holds manager configuration
type Config struct {
	Store    Store
	Runner   Runner
	Notifier Notifier
	Logger   zerolog.Logger
}

// Manager runs fresh requests and owns the retry queue.
type Manager struct {
	store    Store
	runner   Runner
	notifier Notifier
	logger   zerolog.Logger
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	return &Manager{
		store:    cfg.Store,
		runner:   cfg.Runner,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}, nil
}

// Handle runs a fresh request. A transient failure stores the request as a
// pending item, tells the user and returns an error wrapping ErrQueued.
// Permanent failures are reported and returned as is.
func (m *Manager) Handle(ctx context.Context, params agent.RunParams) (agent.RunResult, error) {
	result, err := m.runner.Run(ctx, params)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, agent.ErrUnauthorized) || errors.Is(err, context.Canceled) {
		return result, err
	}

	logger := m.logger.With().Str("conversation_id", params.ConversationID).Logger()

	if Classify(err) == Permanent {
		observability.RecordRetryQueueOutcome("failed")
		logger.Error().Err(err).Msg("Request failed permanently")
		m.notify(ctx, params.ConversationID, "❌ Error: "+summarize(err))
		return result, err
	}

	id, idErr := gonanoid.New()
	if idErr != nil {
		return result, fmt.Errorf("failed to generate queue item id: %w", idErr)
	}
	item := session.QueueItem{
		ID:             id,
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		UserMessage:    params.Text,
		Media:          params.Media,
		Status:         session.QueueStatusPending,
	}
	if enqErr := m.store.EnqueueItem(ctx, item); enqErr != nil {
		logger.Error().Err(enqErr).Msg("Failed to queue request")
		m.notify(ctx, params.ConversationID, "❌ Error: "+summarize(err))
		return result, fmt.Errorf("failed to queue request after %v: %w", err, enqErr)
	}

	observability.RecordRetryQueueOutcome("queued")
	m.updateDepth(ctx)
	logger.Warn().Err(err).Str("queue_item_id", id).Msg("Transient failure, request queued")
	m.notify(ctx, params.ConversationID, queuedNotice)
	return result, fmt.Errorf("%w (item %s): %w", ErrQueued, id, err)
}

// DequeueOnce claims the oldest pending item and replays it. It reports
// false when nothing was pending. A transient failure or an interrupted
// replay puts the item back with its attempt counted; success or a
// permanent failure removes it.
func (m *Manager) DequeueOnce(ctx context.Context) (bool, error) {
	item, err := m.store.ClaimNextPending(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim queue item: %w", err)
	}

	ctx, span := tracing.StartSpan(ctx, "closedai.retryqueue", "retryqueue.dequeue",
		attribute.String("queue_item_id", item.ID),
		attribute.String("conversation_id", item.ConversationID),
		attribute.Int("attempts", item.Attempts),
	)
	defer span.End()
	logger := m.logger.With().
		Str("queue_item_id", item.ID).
		Str("conversation_id", item.ConversationID).
		Int("attempts", item.Attempts).
		Logger()
	logger.Info().Msg("Replaying queued request")

	_, runErr := m.runner.Run(ctx, agent.RunParams{
		ConversationID: item.ConversationID,
		SenderID:       item.SenderID,
		Text:           item.UserMessage,
		Media:          item.Media,
		QueueItemID:    item.ID,
	})
	defer m.updateDepth(ctx)

	switch {
	case runErr == nil:
		observability.RecordRetryQueueOutcome("succeeded")
		logger.Info().Msg("Queued request completed")
		return true, m.remove(ctx, item.ID)

	case errors.Is(runErr, context.Canceled) || ctx.Err() != nil:
		tracing.RecordError(span, runErr)
		observability.RecordRetryQueueOutcome("interrupted")
		logger.Warn().Err(runErr).Msg("Replay interrupted, returning item to queue")
		// The caller's context is gone; the reset must still land.
		resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetTimeout)
		defer cancel()
		if err := m.store.ResetToPending(resetCtx, item.ID); err != nil {
			return true, fmt.Errorf("failed to requeue item %s: %w", item.ID, err)
		}
		return true, nil

	case Classify(runErr) == Transient:
		tracing.RecordError(span, runErr)
		observability.RecordRetryQueueOutcome("requeued")
		logger.Warn().Err(runErr).Msg("Queued request failed again, returning to queue")
		if err := m.store.ResetToPending(ctx, item.ID); err != nil {
			return true, fmt.Errorf("failed to requeue item %s: %w", item.ID, err)
		}
		return true, nil

	default:
		tracing.RecordError(span, runErr)
		observability.RecordRetryQueueOutcome("failed")
		logger.Error().Err(runErr).Msg("Queued request failed permanently")
		if !errors.Is(runErr, agent.ErrUnauthorized) {
			m.notify(ctx, item.ConversationID, "❌ Queued request failed: "+summarize(runErr))
		}
		return true, m.remove(ctx, item.ID)
	}
}

// Recover returns items left processing by a dead worker to the queue.
func (m *Manager) Recover(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleAfter
	}
	n, err := m.store.RecoverStale(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info().Int64("items", n).Msg("Recovered stale queue items")
	}
	m.updateDepth(ctx)
	return n, nil
}

// Items lists the queue, oldest first.
func (m *Manager) Items(ctx context.Context) ([]session.QueueItem, error) {
	return m.store.ListQueueItems(ctx)
}

func (m *Manager) remove(ctx context.Context, id string) error {
	if err := m.store.DeleteQueueItem(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

func (m *Manager) updateDepth(ctx context.Context) {
	if n, err := m.store.CountPending(ctx); err == nil {
		observability.SetRetryQueueDepth(n)
	}
}

func (m *Manager) notify(ctx context.Context, conversationID, text string) {
	if m.notifier == nil {
		return
	}
	if _, err := m.notifier.Send(ctx, conversationID, text); err != nil {
		observability.RecordChannelError("send")
		m.logger.Warn().Err(err).Msg("Failed to send queue notice")
	}
}

func summarize(err error) string {
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
