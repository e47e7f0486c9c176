package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/internal/tracing"
	"github.com/harun/closedai/pkg/commandqueue"
	"github.com/harun/closedai/pkg/history"
	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	accessDeniedNotice = "⛔ Access Denied"
	waitingNotice      = "⏳ Still working on your previous request. This one will start when it is done."
	typingInterval     = 4 * time.Second
	queueWarnAfter     = 3 * time.Second
)

// Runner orchestrates AI agent execution
type Runner struct {
	log        session.Log
	history    *history.Reconstructor
	tools      *toolexecutor.ToolExecutor
	provider   LLMProvider
	channel    Channel
	queue      *commandqueue.CommandQueue
	reconciler Reconciler
	access     AccessPolicy
	logger     zerolog.Logger
	settings   Settings
}

// Config holds runner configuration
type Config struct {
	Log        session.Log
	History    *history.Reconstructor
	Tools      *toolexecutor.ToolExecutor
	Provider   LLMProvider
	Channel    Channel
	Queue      *commandqueue.CommandQueue
	Reconciler Reconciler
	Access     AccessPolicy
	Logger     zerolog.Logger
	Settings   Settings
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Log == nil {
		return nil, fmt.Errorf("turn log is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}

	settings := cfg.Settings
	defaults := DefaultSettings()
	if settings.Model == "" {
		settings.Model = defaults.Model
	}
	if settings.MaxTurns <= 0 {
		settings.MaxTurns = defaults.MaxTurns
	}
	if settings.Debounce <= 0 {
		settings.Debounce = defaults.Debounce
	}
	if settings.CompletionTimeout <= 0 {
		settings.CompletionTimeout = defaults.CompletionTimeout
	}
	if settings.ToolTimeout <= 0 {
		settings.ToolTimeout = defaults.ToolTimeout
	}
	if err := toolexecutor.ValidatePolicy(settings.ToolPolicy, cfg.Tools); err != nil {
		return nil, err
	}

	hist := cfg.History
	if hist == nil {
		hist = history.New(cfg.Log, history.DefaultLimit, cfg.Logger)
	}

	return &Runner{
		log:        cfg.Log,
		history:    hist,
		tools:      cfg.Tools,
		provider:   cfg.Provider,
		channel:    cfg.Channel,
		queue:      cfg.Queue,
		reconciler: cfg.Reconciler,
		access:     cfg.Access,
		logger:     cfg.Logger,
		settings:   settings,
	}, nil
}

// Run handles one user request. Runs of the same conversation are serialized
// and a request that has to wait is acknowledged with a notice.
func (r *Runner) Run(ctx context.Context, params RunParams) (RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.NewRunContext(ctx, params.ConversationID)
	if params.QueueItemID != "" {
		ctx = tracing.WithQueueItemID(ctx, params.QueueItemID)
	}
	ctx, span := tracing.StartSpan(ctx, "closedai.agent", "agent.run",
		attribute.String("conversation_id", params.ConversationID),
		attribute.String("provider", r.provider.Provider()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if err := session.ValidateConversationID(params.ConversationID); err != nil {
		tracing.RecordError(span, err)
		return RunResult{}, fmt.Errorf("invalid run: %w", err)
	}

	if r.access != nil && !r.access.Allowed(params.SenderID) {
		logger.Warn().Str("sender_id", params.SenderID).Msg("Rejected message from unauthorized sender")
		r.notify(ctx, params.ConversationID, accessDeniedNotice)
		observability.RecordAgentRun("denied", 0, 0)
		return RunResult{}, ErrUnauthorized
	}

	conversationID := params.ConversationID
	opts := &commandqueue.TaskOptions{
		RequestID: params.RequestID,
		WarnAfter: queueWarnAfter,
		OnWait: func(wait time.Duration, queuePos int) {
			logger.Info().Dur("wait", wait).Int("queue_pos", queuePos).Msg("Run waiting for conversation lane")
			r.notify(ctx, conversationID, waitingNotice)
		},
	}

	value, err := r.queue.Enqueue(ctx, commandqueue.ConversationLane(conversationID), func(taskCtx context.Context) (interface{}, error) {
		return r.execute(taskCtx, params)
	}, opts)
	result, _ := value.(RunResult)
	if err != nil {
		tracing.RecordError(span, err)
		return result, err
	}
	return result, nil
}

// Provider returns the name of the configured completion provider.
func (r *Runner) Provider() string {
	return r.provider.Provider()
}

func (r *Runner) execute(ctx context.Context, params RunParams) (RunResult, error) {
	start := time.Now()
	conversationID := params.ConversationID
	result := RunResult{ConversationID: conversationID}

	ctx, span := tracing.StartSpan(ctx, "closedai.agent", "agent.execute",
		attribute.String("conversation_id", conversationID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	fail := func(err error) (RunResult, error) {
		tracing.RecordError(span, err)
		observability.RecordAgentRun("failed", time.Since(start), result.Turns)
		logger.Error().Err(err).Int("turns", result.Turns).Msg("Agent run failed")
		return result, err
	}

	stopTyping := r.startTyping(ctx, conversationID)
	defer stopTyping()

	past, err := r.history.Load(ctx, conversationID)
	if err != nil {
		return fail(err)
	}

	userTurn := session.Turn{
		ConversationID: conversationID,
		Role:           session.RoleUser,
		Parts:          requestParts(params),
		Timestamp:      time.Now(),
	}
	if len(userTurn.Parts) == 0 {
		return fail(fmt.Errorf("request for %s has no text or media", conversationID))
	}

	// A replayed request whose user turn is already the newest history
	// entry is not appended again.
	if params.QueueItemID != "" && endsWithRequest(past, userTurn) {
		logger.Debug().Msg("Resuming replayed request without re-appending the user turn")
	} else {
		if err := r.log.AppendTurn(ctx, userTurn); err != nil {
			return fail(fmt.Errorf("failed to persist user turn: %w", err))
		}
		past = appendRequest(past, userTurn)
	}

	turns := append(BuildPreamble(conversationID, r.settings.WorkspaceRoot), past...)
	tools := r.offeredTools()
	flusher := newStreamFlusher(ctx, r.channel, conversationID, r.settings.Debounce, logger)

	for {
		if result.Turns >= r.settings.MaxTurns {
			result.BudgetExhausted = true
			logger.Warn().Int("max_turns", r.settings.MaxTurns).Msg("Turn budget exhausted, ending run")
			break
		}
		result.Turns++

		modelTurn, err := r.complete(ctx, turns, tools, flusher)
		flusher.Reset()
		if err != nil {
			return fail(err)
		}

		modelTurn.ConversationID = conversationID
		modelTurn.Role = session.RoleModel
		modelTurn.Timestamp = time.Now()
		assignCallIDs(modelTurn)
		if len(modelTurn.Parts) == 0 {
			modelTurn.Parts = []session.Part{{Text: "(no response)"}}
		}
		if err := r.log.AppendTurn(ctx, *modelTurn); err != nil {
			return fail(fmt.Errorf("failed to persist model turn: %w", err))
		}
		turns = append(turns, *modelTurn)

		if text := strings.TrimSpace(modelTurn.Text()); text != "" {
			if result.Response != "" {
				result.Response += "\n\n"
			}
			result.Response += text
		}

		calls := modelTurn.ToolCalls()
		if len(calls) == 0 {
			break
		}

		result.ToolCalls += len(calls)
		toolTurn := r.dispatch(ctx, conversationID, calls, logger)
		if err := r.log.AppendTurn(ctx, toolTurn); err != nil {
			return fail(fmt.Errorf("failed to persist tool turn: %w", err))
		}
		turns = append(turns, toolTurn)
	}

	if r.reconciler != nil {
		if err := r.reconciler.Reconcile(ctx, conversationID); err != nil {
			logger.Warn().Err(err).Msg("Workspace reconciliation failed")
		}
	}

	span.SetAttributes(
		attribute.Int("turns", result.Turns),
		attribute.Int("tool_calls", result.ToolCalls),
	)
	observability.RecordAgentRun("done", time.Since(start), result.Turns)
	logger.Info().
		Int("turns", result.Turns).
		Int("tool_calls", result.ToolCalls).
		Bool("budget_exhausted", result.BudgetExhausted).
		Dur("duration", time.Since(start)).
		Msg("Agent run completed")

	return result, nil
}

func (r *Runner) complete(ctx context.Context, turns []session.Turn, tools []toolexecutor.ToolDefinition, flusher *streamFlusher) (*session.Turn, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.settings.CompletionTimeout)
	defer cancel()

	start := time.Now()
	turn, err := r.provider.Stream(callCtx, LLMRequest{
		Model:        r.settings.Model,
		SystemPrompt: r.settings.SystemPrompt,
		Turns:        turns,
		Tools:        tools,
		Temperature:  r.settings.Temperature,
		MaxTokens:    r.settings.MaxTokens,
	}, flusher.Append)
	observability.RecordCompletion(r.provider.Provider(), time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, &LLMError{Provider: r.provider.Provider(), Type: ErrorTypeUnknown, Message: "provider returned no turn"}
	}
	return turn, nil
}

// dispatch runs each call in order and folds the outcomes into one tool turn.
func (r *Runner) dispatch(ctx context.Context, conversationID string, calls []session.ToolCall, logger zerolog.Logger) session.Turn {
	execCtx := &toolexecutor.ExecutionContext{
		ConversationID: conversationID,
		Timeout:        r.settings.ToolTimeout,
		ToolPolicy:     r.settings.ToolPolicy,
	}

	parts := make([]session.Part, 0, len(calls))
	for _, call := range calls {
		def := r.tools.GetTool(call.Name)
		r.notify(ctx, conversationID, progressNotice(def, call))

		res := r.tools.Execute(ctx, call.Name, call.Args, execCtx)
		outcome := &session.ToolResult{ID: call.ID, Name: call.Name}
		if res.Success {
			outcome.Result = res.Output
		} else {
			outcome.Error = res.Error
			logger.Debug().Str("tool", call.Name).Str("error", res.Error).Msg("Tool call failed")
		}
		parts = append(parts, session.Part{ToolResult: outcome})
	}

	return session.Turn{
		ConversationID: conversationID,
		Role:           session.RoleTool,
		Parts:          parts,
		Timestamp:      time.Now(),
	}
}

func (r *Runner) offeredTools() []toolexecutor.ToolDefinition {
	defs := r.tools.Definitions()
	if r.settings.ToolPolicy == nil {
		return defs
	}
	offered := make([]toolexecutor.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		if r.settings.ToolPolicy.IsToolAllowed(def.Name) {
			offered = append(offered, def)
		}
	}
	return offered
}

func (r *Runner) notify(ctx context.Context, conversationID, text string) {
	if r.channel == nil {
		return
	}
	if _, err := r.channel.Send(ctx, conversationID, text); err != nil && !errors.Is(err, context.Canceled) {
		observability.RecordChannelError("send")
		r.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to send notice")
	}
}

func (r *Runner) startTyping(ctx context.Context, conversationID string) func() {
	typer, ok := r.channel.(TypingIndicator)
	if !ok {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := typer.Typing(ctx, conversationID); err != nil && ctx.Err() == nil {
				r.logger.Debug().Err(err).Msg("Typing indicator failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func requestParts(params RunParams) []session.Part {
	var parts []session.Part
	if strings.TrimSpace(params.Text) != "" {
		parts = append(parts, session.Part{Text: params.Text})
	}
	for i := range params.Media {
		m := params.Media[i]
		if len(m.Data) == 0 {
			continue
		}
		parts = append(parts, session.Part{InlineMedia: &m})
	}
	return parts
}

// appendRequest adds the request to the history. A trailing user turn, left
// by a failed run or a trimmed tool call, absorbs the request so roles keep
// alternating.
func appendRequest(past []session.Turn, request session.Turn) []session.Turn {
	n := len(past)
	if n == 0 || past[n-1].Role != session.RoleUser {
		return append(past, request)
	}
	last := past[n-1]
	parts := make([]session.Part, 0, len(last.Parts)+len(request.Parts))
	last.Parts = append(append(parts, last.Parts...), request.Parts...)
	out := append([]session.Turn(nil), past[:n-1]...)
	return append(out, last)
}

func endsWithRequest(past []session.Turn, request session.Turn) bool {
	text := request.Text()
	if len(past) == 0 || text == "" {
		return false
	}
	last := past[len(past)-1]
	return last.Role == session.RoleUser && strings.HasSuffix(last.Text(), text)
}

// assignCallIDs gives every tool call an ID so results can be matched to
// calls by providers that require it.
func assignCallIDs(turn *session.Turn) {
	for i := range turn.Parts {
		if call := turn.Parts[i].ToolCall; call != nil && call.ID == "" {
			call.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
		}
	}
}

func progressNotice(def *toolexecutor.ToolDefinition, call session.ToolCall) string {
	summary := toolexecutor.SummarizeArgs(def, call.Args)
	if summary == "" {
		return fmt.Sprintf("🔧 %s", call.Name)
	}
	return fmt.Sprintf("🔧 %s: %s", call.Name, summary)
}
