package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/harun/closedai/pkg/commandqueue"
	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/store"
	"github.com/harun/closedai/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu       sync.Mutex
	steps    []func(request LLMRequest, onDelta DeltaFunc) (*session.Turn, error)
	fallback func(request LLMRequest, onDelta DeltaFunc) (*session.Turn, error)
	requests []LLMRequest
}

func (p *scriptedProvider) Stream(ctx context.Context, request LLMRequest, onDelta DeltaFunc) (*session.Turn, error) {
	p.mu.Lock()
	idx := len(p.requests)
	turns := append([]session.Turn(nil), request.Turns...)
	request.Turns = turns
	p.requests = append(p.requests, request)
	p.mu.Unlock()

	if idx < len(p.steps) {
		return p.steps[idx](request, onDelta)
	}
	if p.fallback != nil {
		return p.fallback(request, onDelta)
	}
	return nil, fmt.Errorf("unexpected completion call %d", idx+1)
}

func (p *scriptedProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	return "generated", nil
}

func (p *scriptedProvider) Provider() string {
	return "scripted"
}

func (p *scriptedProvider) calls() []LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LLMRequest(nil), p.requests...)
}

func replyText(text string) func(LLMRequest, DeltaFunc) (*session.Turn, error) {
	return func(_ LLMRequest, onDelta DeltaFunc) (*session.Turn, error) {
		onDelta(text)
		return buildModelTurn(text, nil), nil
	}
}

func replyCall(name string, args map[string]interface{}) func(LLMRequest, DeltaFunc) (*session.Turn, error) {
	return func(LLMRequest, DeltaFunc) (*session.Turn, error) {
		return buildModelTurn("", []session.ToolCall{{Name: name, Args: args}}), nil
	}
}

type recordingChannel struct {
	mu    sync.Mutex
	sent  []string
	edits []string
}

func (c *recordingChannel) Send(ctx context.Context, conversationID, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return fmt.Sprintf("m%d", len(c.sent)), nil
}

func (c *recordingChannel) Edit(ctx context.Context, conversationID, messageID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, messageID+":"+text)
	return nil
}

func (c *recordingChannel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type allowList map[string]bool

func (a allowList) Allowed(senderID string) bool {
	return a[senderID]
}

type countingReconciler struct {
	mu    sync.Mutex
	calls []string
}

func (r *countingReconciler) Reconcile(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, conversationID)
	return nil
}

type testEnv struct {
	runner     *Runner
	provider   *scriptedProvider
	channel    *recordingChannel
	store      *store.Store
	reconciler *countingReconciler
}

func setupTestRunner(t *testing.T, provider *scriptedProvider, mutate func(*Config)) *testEnv {
	t.Helper()

	st, err := store.Open(store.Config{Path: store.MemoryPath, Logger: zerolog.Nop()})
	require.NoError(t, err)

	te := toolexecutor.New()
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "list_directory",
		Description: "List a directory",
		Category:    toolexecutor.CategoryRead,
		KeyArg:      "path",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "a.txt\nsrc/", nil
		},
	}))
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file",
		Category:    toolexecutor.CategoryRead,
		KeyArg:      "path",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("file not found")
		},
	}))

	cq := commandqueue.New()
	channel := &recordingChannel{}
	reconciler := &countingReconciler{}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# demo"), 0644))

	cfg := Config{
		Log:        st,
		Tools:      te,
		Provider:   provider,
		Channel:    channel,
		Queue:      cq,
		Reconciler: reconciler,
		Logger:     zerolog.Nop(),
		Settings: Settings{
			SystemPrompt:  "test prompt",
			WorkspaceRoot: root,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		cq.Close()
		st.Close()
	})

	return &testEnv{runner: runner, provider: provider, channel: channel, store: st, reconciler: reconciler}
}

func TestNewRunner(t *testing.T) {
	t.Run("should require a turn log", func(t *testing.T) {
		_, err := NewRunner(Config{})
		assert.ErrorContains(t, err, "turn log is required")
	})

	t.Run("should apply default settings", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{}, nil)
		assert.Equal(t, MaxTurns, env.runner.settings.MaxTurns)
		assert.Equal(t, DefaultSettings().Model, env.runner.settings.Model)
		assert.Equal(t, "scripted", env.runner.Provider())
	})

	t.Run("should reject a policy naming unknown tools", func(t *testing.T) {
		st, err := store.Open(store.Config{Path: store.MemoryPath})
		require.NoError(t, err)
		defer st.Close()

		_, err = NewRunner(Config{
			Log:      st,
			Tools:    toolexecutor.New(),
			Provider: &scriptedProvider{},
			Queue:    commandqueue.New(),
			Settings: Settings{ToolPolicy: &toolexecutor.ToolPolicy{Allow: []string{"nope"}}},
		})
		assert.ErrorContains(t, err, "unknown tool")
	})
}

func TestRunner_Run(t *testing.T) {
	t.Run("should dispatch a tool call and finish with text", func(t *testing.T) {
		provider := &scriptedProvider{steps: []func(LLMRequest, DeltaFunc) (*session.Turn, error){
			replyCall("list_directory", map[string]interface{}{"path": "."}),
			replyText("The repo has a.txt and src/."),
		}}
		env := setupTestRunner(t, provider, nil)

		result, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "list files"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Turns)
		assert.Equal(t, 1, result.ToolCalls)
		assert.False(t, result.BudgetExhausted)
		assert.Equal(t, "The repo has a.txt and src/.", result.Response)

		stored, err := env.store.RecentTurns(context.Background(), "42", 10)
		require.NoError(t, err)
		require.Len(t, stored, 4)
		assert.Equal(t, session.RoleModel, stored[0].Role)
		assert.Equal(t, session.RoleTool, stored[1].Role)
		assert.Equal(t, session.RoleModel, stored[2].Role)
		assert.Equal(t, session.RoleUser, stored[3].Role)
		assert.Equal(t, "list files", stored[3].Text())

		call := stored[2].ToolCalls()[0]
		assert.NotEmpty(t, call.ID)
		result0 := stored[1].Parts[0].ToolResult
		require.NotNil(t, result0)
		assert.Equal(t, call.ID, result0.ID)
		assert.Equal(t, "a.txt\nsrc/", result0.Result)

		assert.Equal(t, []string{"🔧 list_directory: .", "The repo has a.txt and src/."}, env.channel.Sent())
		assert.Equal(t, []string{"42"}, env.reconciler.calls)

		calls := provider.calls()
		require.Len(t, calls, 2)
		second := calls[1].Turns
		assert.Equal(t, preambleRequest, second[0].Text())
		assert.Contains(t, second[1].Text(), "README.md")
		assert.Equal(t, session.RoleTool, second[len(second)-1].Role)
		assert.Equal(t, "test prompt", calls[1].SystemPrompt)
		assert.Len(t, calls[0].Tools, 2)
	})

	t.Run("should stop after the turn budget", func(t *testing.T) {
		provider := &scriptedProvider{fallback: replyCall("list_directory", map[string]interface{}{"path": "."})}
		env := setupTestRunner(t, provider, func(cfg *Config) { cfg.Settings.MaxTurns = 3 })

		result, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "loop"})
		require.NoError(t, err)
		assert.True(t, result.BudgetExhausted)
		assert.Equal(t, 3, result.Turns)
		assert.Len(t, provider.calls(), 3)

		stored, err := env.store.RecentTurns(context.Background(), "42", 20)
		require.NoError(t, err)
		assert.Len(t, stored, 7)
		assert.Len(t, env.reconciler.calls, 1)
	})

	t.Run("should feed tool errors back to the model", func(t *testing.T) {
		provider := &scriptedProvider{steps: []func(LLMRequest, DeltaFunc) (*session.Turn, error){
			replyCall("read_file", map[string]interface{}{"path": "missing.go"}),
			replyText("That file does not exist."),
		}}
		env := setupTestRunner(t, provider, nil)

		result, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "read missing.go"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Turns)

		last := provider.calls()[1].Turns
		toolTurn := last[len(last)-1]
		require.Equal(t, session.RoleTool, toolTurn.Role)
		assert.Contains(t, toolTurn.Parts[0].ToolResult.Error, "file not found")
	})

	t.Run("should answer an unknown tool with an error result", func(t *testing.T) {
		provider := &scriptedProvider{steps: []func(LLMRequest, DeltaFunc) (*session.Turn, error){
			replyCall("format_disk", nil),
			replyText("ok"),
		}}
		env := setupTestRunner(t, provider, nil)

		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "go"})
		require.NoError(t, err)

		last := provider.calls()[1].Turns
		assert.NotEmpty(t, last[len(last)-1].Parts[0].ToolResult.Error)
	})

	t.Run("should deny senders outside the allow-list", func(t *testing.T) {
		provider := &scriptedProvider{}
		env := setupTestRunner(t, provider, func(cfg *Config) { cfg.Access = allowList{"1001": true} })

		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", SenderID: "666", Text: "hi"})
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, []string{accessDeniedNotice}, env.channel.Sent())
		assert.Empty(t, provider.calls())

		stored, err := env.store.RecentTurns(context.Background(), "42", 10)
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("should keep the user turn when the completion fails", func(t *testing.T) {
		apiErr := &LLMError{Provider: "scripted", Type: ErrorTypeRateLimit, StatusCode: 429, Message: "quota"}
		provider := &scriptedProvider{fallback: func(LLMRequest, DeltaFunc) (*session.Turn, error) { return nil, apiErr }}
		env := setupTestRunner(t, provider, nil)

		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "hello"})
		var llmErr *LLMError
		require.ErrorAs(t, err, &llmErr)
		assert.True(t, llmErr.IsRetryable())

		stored, err := env.store.RecentTurns(context.Background(), "42", 10)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, session.RoleUser, stored[0].Role)
		assert.Empty(t, env.reconciler.calls)
	})

	t.Run("should not duplicate the user turn when replaying a queued request", func(t *testing.T) {
		provider := &scriptedProvider{fallback: replyText("done")}
		env := setupTestRunner(t, provider, nil)
		require.NoError(t, env.store.AppendTurn(context.Background(), session.NewTextTurn("42", session.RoleUser, "retry me")))

		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "retry me", QueueItemID: "q1"})
		require.NoError(t, err)

		stored, err := env.store.RecentTurns(context.Background(), "42", 10)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, session.RoleModel, stored[0].Role)

		turns := provider.calls()[0].Turns
		assert.Equal(t, "retry me", turns[len(turns)-1].Text())
	})

	t.Run("should reject an empty request", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{}, nil)
		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "  "})
		assert.ErrorContains(t, err, "no text or media")
	})

	t.Run("should reject an invalid conversation id", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{}, nil)
		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "../x", Text: "hi"})
		assert.Error(t, err)
	})

	t.Run("should offer only tools allowed by the policy", func(t *testing.T) {
		provider := &scriptedProvider{fallback: replyText("ok")}
		env := setupTestRunner(t, provider, func(cfg *Config) {
			cfg.Settings.ToolPolicy = &toolexecutor.ToolPolicy{Deny: []string{"read_file"}}
		})

		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "hi"})
		require.NoError(t, err)
		tools := provider.calls()[0].Tools
		require.Len(t, tools, 1)
		assert.Equal(t, "list_directory", tools[0].Name)
	})
}

// assertAlternatingRoles checks the list starts with a user turn and never
// repeats a role in adjacent entries.
func assertAlternatingRoles(t *testing.T, turns []session.Turn) {
	t.Helper()
	require.NotEmpty(t, turns)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	for i := 1; i < len(turns); i++ {
		assert.NotEqual(t, turns[i-1].Role, turns[i].Role, "turns %d and %d share role %s", i-1, i, turns[i].Role)
	}
}

func TestRunner_SubmittedRoles(t *testing.T) {
	t.Run("should fold a request left by a failed run into the next one", func(t *testing.T) {
		unavailable := &LLMError{Provider: "scripted", Type: ErrorTypeTransient, StatusCode: 503, Message: "upstream 503"}
		provider := &scriptedProvider{steps: []func(LLMRequest, DeltaFunc) (*session.Turn, error){
			func(LLMRequest, DeltaFunc) (*session.Turn, error) { return nil, unavailable },
			replyText("done"),
		}}
		env := setupTestRunner(t, provider, nil)

		_, err := env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "first"})
		require.Error(t, err)
		_, err = env.runner.Run(context.Background(), RunParams{ConversationID: "42", Text: "second"})
		require.NoError(t, err)

		calls := provider.calls()
		require.Len(t, calls, 2)
		turns := calls[1].Turns
		assertAlternatingRoles(t, turns)

		last := turns[len(turns)-1]
		assert.Equal(t, session.RoleUser, last.Role)
		require.Len(t, last.Parts, 2)
		assert.Equal(t, "first", last.Parts[0].Text)
		assert.Equal(t, "second", last.Parts[1].Text)
	})

	t.Run("should keep roles alternating after a trimmed tool call", func(t *testing.T) {
		provider := &scriptedProvider{fallback: replyText("ok")}
		env := setupTestRunner(t, provider, nil)
		ctx := context.Background()
		require.NoError(t, env.store.AppendTurn(ctx, session.NewTextTurn("42", session.RoleUser, "hi")))
		require.NoError(t, env.store.AppendTurn(ctx, session.NewTextTurn("42", session.RoleModel, "hello")))
		require.NoError(t, env.store.AppendTurn(ctx, session.NewTextTurn("42", session.RoleUser, "list files")))
		dangling := buildModelTurn("", []session.ToolCall{{ID: "c1", Name: "list_directory", Args: map[string]interface{}{"path": "."}}})
		dangling.ConversationID = "42"
		require.NoError(t, env.store.AppendTurn(ctx, *dangling))

		_, err := env.runner.Run(ctx, RunParams{ConversationID: "42", Text: "try again"})
		require.NoError(t, err)

		turns := provider.calls()[0].Turns
		assertAlternatingRoles(t, turns)
		last := turns[len(turns)-1]
		assert.Equal(t, session.RoleUser, last.Role)
		assert.Contains(t, last.Text(), "list files")
		assert.Contains(t, last.Text(), "try again")
		for _, turn := range turns {
			assert.False(t, turn.HasToolCalls())
		}
	})
}

func TestAssignCallIDs(t *testing.T) {
	turn := buildModelTurn("", []session.ToolCall{{Name: "a"}, {ID: "keep", Name: "b"}})
	assignCallIDs(turn)

	calls := turn.ToolCalls()
	assert.Regexp(t, `^call_[0-9a-f]{24}$`, calls[0].ID)
	assert.Equal(t, "keep", calls[1].ID)
}

func TestProgressNotice(t *testing.T) {
	def := &toolexecutor.ToolDefinition{Name: "read_file", KeyArg: "path"}
	assert.Equal(t, "🔧 read_file: main.go", progressNotice(def, session.ToolCall{Name: "read_file", Args: map[string]interface{}{"path": "main.go"}}))
	assert.Equal(t, "🔧 git_status", progressNotice(nil, session.ToolCall{Name: "git_status"}))
}
