package retryqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/closedai/pkg/agent"
	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, params agent.RunParams) (agent.RunResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(agent.RunResult), args.Error(1)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Send(ctx context.Context, conversationID, text string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return "1", nil
}

var unavailable = &agent.LLMError{Provider: "gemini", Type: agent.ErrorTypeTransient, StatusCode: 503, Message: "unavailable"}

func setupManager(t *testing.T) (*Manager, *mockRunner, *store.Store, *recordingNotifier) {
	t.Helper()
	st, err := store.Open(store.Config{Path: store.MemoryPath, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	runner := &mockRunner{}
	notifier := &recordingNotifier{}
	m, err := New(Config{Store: st, Runner: runner, Notifier: notifier, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return m, runner, st, notifier
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "store is required")
}

func TestManager_Handle(t *testing.T) {
	params := agent.RunParams{ConversationID: "42", SenderID: "1001", Text: "fix the build"}

	t.Run("should pass through a successful run", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		runner.On("Run", mock.Anything, params).Return(agent.RunResult{Response: "done"}, nil)

		result, err := m.Handle(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, "done", result.Response)

		items, err := st.ListQueueItems(context.Background())
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Empty(t, notifier.messages)
	})

	t.Run("should queue one item on a transient failure", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		runner.On("Run", mock.Anything, params).Return(agent.RunResult{}, unavailable)

		_, err := m.Handle(context.Background(), params)
		assert.ErrorIs(t, err, ErrQueued)
		var llmErr *agent.LLMError
		assert.ErrorAs(t, err, &llmErr)

		items, err := st.ListQueueItems(context.Background())
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "42", items[0].ConversationID)
		assert.Equal(t, "1001", items[0].SenderID)
		assert.Equal(t, "fix the build", items[0].UserMessage)
		assert.Equal(t, session.QueueStatusPending, items[0].Status)
		assert.Equal(t, []string{queuedNotice}, notifier.messages)
	})

	t.Run("should report permanent failures without queueing", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		runner.On("Run", mock.Anything, params).Return(agent.RunResult{}, errors.New("invalid argument"))

		_, err := m.Handle(context.Background(), params)
		assert.EqualError(t, err, "invalid argument")
		assert.NotErrorIs(t, err, ErrQueued)

		n, err := st.CountPending(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, []string{"❌ Error: invalid argument"}, notifier.messages)
	})

	t.Run("should leave denials to the runner", func(t *testing.T) {
		m, runner, _, notifier := setupManager(t)
		runner.On("Run", mock.Anything, params).Return(agent.RunResult{}, agent.ErrUnauthorized)

		_, err := m.Handle(context.Background(), params)
		assert.ErrorIs(t, err, agent.ErrUnauthorized)
		assert.Empty(t, notifier.messages)
	})
}

func TestManager_DequeueOnce(t *testing.T) {
	enqueue := func(t *testing.T, st *store.Store, id string, created time.Time) {
		require.NoError(t, st.EnqueueItem(context.Background(), session.QueueItem{
			ID:             id,
			ConversationID: "42",
			SenderID:       "1001",
			UserMessage:    "msg " + id,
			CreatedAt:      created,
		}))
	}
	isReplay := func(id string) interface{} {
		return mock.MatchedBy(func(p agent.RunParams) bool {
			return p.QueueItemID == id && p.Text == "msg "+id && p.SenderID == "1001"
		})
	}

	t.Run("should report an empty queue", func(t *testing.T) {
		m, runner, _, _ := setupManager(t)
		ok, err := m.DequeueOnce(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
		runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})

	t.Run("should delete the item after a successful replay", func(t *testing.T) {
		m, runner, st, _ := setupManager(t)
		now := time.Now()
		enqueue(t, st, "b", now)
		enqueue(t, st, "a", now.Add(-time.Minute))
		runner.On("Run", mock.Anything, isReplay("a")).Return(agent.RunResult{}, nil).Once()

		ok, err := m.DequeueOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		runner.AssertExpectations(t)

		_, err = st.GetQueueItem(context.Background(), "a")
		assert.ErrorIs(t, err, store.ErrNotFound)
		n, _ := st.CountPending(context.Background())
		assert.Equal(t, 1, n)
	})

	t.Run("should requeue the same item on another transient failure", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		enqueue(t, st, "a", time.Now())
		runner.On("Run", mock.Anything, isReplay("a")).Return(agent.RunResult{}, unavailable).Twice()

		for i := 0; i < 2; i++ {
			ok, err := m.DequeueOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, ok)
		}

		items, err := st.ListQueueItems(context.Background())
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "a", items[0].ID)
		assert.Equal(t, 2, items[0].Attempts)
		assert.Equal(t, session.QueueStatusPending, items[0].Status)
		assert.Empty(t, notifier.messages)
	})

	t.Run("should return a cancelled replay to the queue", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		enqueue(t, st, "a", time.Now())
		runner.On("Run", mock.Anything, isReplay("a")).Return(agent.RunResult{}, context.Canceled).Once()

		ok, err := m.DequeueOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)

		items, err := st.ListQueueItems(context.Background())
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, session.QueueStatusPending, items[0].Status)
		assert.Empty(t, notifier.messages)
	})

	t.Run("should requeue when shutdown cancels the replay midway", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		enqueue(t, st, "a", time.Now())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		runner.On("Run", mock.Anything, isReplay("a")).
			Run(func(mock.Arguments) { cancel() }).
			Return(agent.RunResult{}, errors.New("failed to persist model turn: interrupted")).Once()

		ok, err := m.DequeueOnce(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		items, err := st.ListQueueItems(context.Background())
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "a", items[0].ID)
		assert.Equal(t, session.QueueStatusPending, items[0].Status)
		assert.Empty(t, notifier.messages)
	})

	t.Run("should drop and report a permanent failure", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		enqueue(t, st, "a", time.Now())
		runner.On("Run", mock.Anything, isReplay("a")).Return(agent.RunResult{}, &agent.LLMError{Provider: "gemini", Type: agent.ErrorTypeAuth, StatusCode: 401, Message: "bad key"})

		ok, err := m.DequeueOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)

		items, err := st.ListQueueItems(context.Background())
		require.NoError(t, err)
		assert.Empty(t, items)
		require.Len(t, notifier.messages, 1)
		assert.Contains(t, notifier.messages[0], "Queued request failed")
	})

	t.Run("should drop items whose sender lost access", func(t *testing.T) {
		m, runner, st, notifier := setupManager(t)
		enqueue(t, st, "a", time.Now())
		runner.On("Run", mock.Anything, isReplay("a")).Return(agent.RunResult{}, agent.ErrUnauthorized)

		_, err := m.DequeueOnce(context.Background())
		require.NoError(t, err)

		items, _ := st.ListQueueItems(context.Background())
		assert.Empty(t, items)
		assert.Empty(t, notifier.messages)
	})
}

func TestManager_Recover(t *testing.T) {
	m, _, st, _ := setupManager(t)
	require.NoError(t, st.EnqueueItem(context.Background(), session.QueueItem{
		ID:             "a",
		ConversationID: "42",
		UserMessage:    "hi",
		Status:         session.QueueStatusProcessing,
		LastAttempt:    time.Now().Add(-time.Hour),
	}))

	n, err := m.Recover(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, err := m.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, session.QueueStatusPending, items[0].Status)
}
