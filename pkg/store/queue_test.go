package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/closedai/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Queue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Unix(5000, 0)
	require.NoError(t, s.EnqueueItem(ctx, session.QueueItem{
		ID: "second", ConversationID: "c1", UserMessage: "later", CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.EnqueueItem(ctx, session.QueueItem{
		ID: "first", ConversationID: "c1", UserMessage: "earlier", CreatedAt: base,
		Media: []session.InlineMedia{{Data: []byte{1, 2, 3}, MIMEType: "image/png"}},
	}))

	t.Run("should default new items to pending", func(t *testing.T) {
		item, err := s.GetQueueItem(ctx, "first")
		require.NoError(t, err)
		assert.Equal(t, session.QueueStatusPending, item.Status)
		assert.Equal(t, []byte{1, 2, 3}, item.Media[0].Data)

		n, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("should claim the oldest pending item", func(t *testing.T) {
		item, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, "first", item.ID)
		assert.Equal(t, session.QueueStatusProcessing, item.Status)
		assert.False(t, item.LastAttempt.IsZero())
	})

	t.Run("should reset a claimed item and count the attempt", func(t *testing.T) {
		require.NoError(t, s.ResetToPending(ctx, "first"))
		item, err := s.GetQueueItem(ctx, "first")
		require.NoError(t, err)
		assert.Equal(t, session.QueueStatusPending, item.Status)
		assert.Equal(t, 1, item.Attempts)

		items, err := s.ListQueueItems(ctx)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("should delete items", func(t *testing.T) {
		require.NoError(t, s.DeleteQueueItem(ctx, "first"))
		assert.ErrorIs(t, s.DeleteQueueItem(ctx, "first"), ErrNotFound)
		_, err := s.GetQueueItem(ctx, "first")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should report an empty queue", func(t *testing.T) {
		_, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		_, err = s.ClaimNextPending(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnqueueItem(ctx, session.QueueItem{ID: "only", ConversationID: "c1", UserMessage: "x"}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimNextPending(ctx); err == nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claimed)
}

func TestStore_RecoverStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Unix(10000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.EnqueueItem(ctx, session.QueueItem{ID: "a", ConversationID: "c1", UserMessage: "x"}))
	_, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)

	n, err := s.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	now = now.Add(2 * time.Hour)
	n, err = s.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	item, err := s.GetQueueItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, session.QueueStatusPending, item.Status)
}
