// Package daemon wires the agent, the retry queue and the Telegram bot into
// a single-instance process that runs either live (long polling plus a
// cron-driven queue worker) or as a one-shot batch.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/closedai/internal/config"
	"github.com/harun/closedai/internal/logger"
	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/internal/telegram"
	"github.com/harun/closedai/internal/tracing"
	"github.com/harun/closedai/pkg/agent"
	"github.com/harun/closedai/pkg/commandqueue"
	"github.com/harun/closedai/pkg/coretools"
	"github.com/harun/closedai/pkg/history"
	"github.com/harun/closedai/pkg/reconcile"
	"github.com/harun/closedai/pkg/retryqueue"
	"github.com/harun/closedai/pkg/sandbox"
	"github.com/harun/closedai/pkg/store"
	"github.com/harun/closedai/pkg/toolexecutor"
)

// Mode selects how the daemon receives updates.
type Mode string

const (
	// ModeLive long-polls Telegram until stopped.
	ModeLive Mode = "live"

	// ModeBatch drains pending work once and exits.
	ModeBatch Mode = "batch"
)

const (
	dequeueTimeout  = time.Hour
	mediaTimeout    = 2 * time.Minute
	shutdownTimeout = 5 * time.Second

	// DefaultBatchRetryDelay is the pause before a batch run retries what
	// it queued itself.
	DefaultBatchRetryDelay = 60 * time.Second

	initialDrainLimit = 10
	finalDrainLimit   = 5
)

// ErrRestartRequested is returned by Run after /restart.
var ErrRestartRequested = errors.New("restart requested")

// Options tunes a Daemon. API and Provider replace the network clients.
type Options struct {
	Mode            Mode
	BatchRetryDelay time.Duration

	// Loader enables config hot reload when set.
	Loader *config.Loader

	API      telegram.API
	Self     tgbotapi.User
	Provider agent.LLMProvider
}

// Daemon represents the closedai service
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	opts   Options

	store    *store.Store
	policy   *sandbox.Policy
	sandbox  *sandbox.HostSandbox
	audit    *observability.AuditLogger
	tools    *toolexecutor.ToolExecutor
	provider agent.LLMProvider
	lanes    *commandqueue.CommandQueue
	access   *config.AccessList
	runner   *agent.Runner
	queue    *retryqueue.Manager

	bot      *telegram.Bot
	commands *telegram.Commands
	handler  *telegram.Handler

	pidFile *PIDFile
	lease   *Lease
	metrics *http.Server

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	restart bool

	tracingEnabled bool
}

// New creates a daemon and every component it runs. Nothing is started
// until Run.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeLive
	}
	if opts.BatchRetryDelay <= 0 {
		opts.BatchRetryDelay = DefaultBatchRetryDelay
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:  cfg,
		logger:  log,
		opts:    opts,
		pidFile: NewPIDFile(cfg.PIDPath()),
	}

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.Options{
			ServiceName: "closedai",
			Exporter:    cfg.Tracing.Exporter,
			File:        filepath.Join(cfg.DataDir, "traces.jsonl"),
		})
		if err != nil {
			zl := log.Zerolog()
			zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initialize(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config
	base := d.logger.Zerolog()

	st, err := store.Open(store.Config{Path: cfg.DatabasePath(), Logger: d.logger.Component("store")})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st
	d.lease = NewLease(st, "", LeaseTTL, d.logger.Component("lease"))

	policy, err := sandbox.NewPolicy(cfg.Workspace.Path, cfg.Workspace.UnsafeMode)
	if err != nil {
		return fmt.Errorf("failed to create safety policy: %w", err)
	}
	d.policy = policy

	sbCfg := sandbox.DefaultConfig()
	if cfg.Chat.ToolTimeout > 0 {
		sbCfg.Timeout = cfg.Chat.ToolTimeout
	}
	sb, err := sandbox.NewHostSandbox(sbCfg, policy)
	if err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}
	d.sandbox = sb

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	audit, err := observability.NewAuditLogger(auditPath)
	if err != nil {
		base.Warn().Err(err).Str("path", auditPath).Msg("Failed to open audit log, auditing disabled")
		audit = observability.NopAuditLogger()
	}
	d.audit = audit

	if d.opts.API != nil {
		d.bot = telegram.NewWithAPI(d.opts.API, d.opts.Self, cfg.Telegram, cfg.Chat.MaxMessageLength, base)
	} else {
		bot, err := telegram.New(cfg.Telegram, cfg.Chat.MaxMessageLength, base)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		d.bot = bot
	}

	d.tools = toolexecutor.New()
	d.tools.SetAuditLogger(audit)
	if err := coretools.RegisterCoreTools(d.tools, coretools.Options{Sandbox: sb, Replier: d.bot}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	d.provider = d.opts.Provider
	if d.provider == nil {
		factory := &agent.ProviderFactory{}
		provider, err := factory.NewProvider(context.Background(), agent.AuthProfile{
			Provider: cfg.AI.Provider,
			APIKey:   cfg.AI.APIKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create llm provider: %w", err)
		}
		d.provider = provider
	}

	d.lanes = commandqueue.New()
	d.access = config.NewAccessList(cfg.Telegram.AllowedUserIDs)

	reconciler, err := reconcile.New(reconcile.Config{
		Sandbox:   sb,
		Generator: d.provider,
		Model:     cfg.AI.CommitModel,
		Notifier:  d.bot,
		Logger:    d.logger.Component("reconcile"),
	})
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}

	d.runner, err = agent.NewRunner(agent.Config{
		Log:        st,
		History:    history.New(st, cfg.Chat.HistoryLimit, d.logger.Component("history")),
		Tools:      d.tools,
		Provider:   d.provider,
		Channel:    d.bot,
		Queue:      d.lanes,
		Reconciler: reconciler,
		Access:     d.access,
		Logger:     d.logger.Component("agent"),
		Settings:   runnerSettings(cfg),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	d.queue, err = retryqueue.New(retryqueue.Config{
		Store:    st,
		Runner:   d.runner,
		Notifier: d.bot,
		Logger:   d.logger.Component("retryqueue"),
	})
	if err != nil {
		return fmt.Errorf("failed to create retry queue: %w", err)
	}

	mode := "Polling"
	if d.opts.Mode == ModeBatch {
		mode = "Batch"
	}
	d.commands = telegram.NewCommands(telegram.CommandsConfig{
		Sender:    d.bot,
		Store:     st,
		Sandbox:   sb,
		LogFile:   cfg.Log.File,
		TailLimit: cfg.Log.Limit,
		Mode:      mode,
		Restart:   d.requestRestart,
		Audit:     audit,
		Logger:    d.logger.Component("commands"),
	})

	d.handler, err = telegram.NewHandler(telegram.HandlerConfig{
		Processor: d.queue,
		Commands:  d.commands,
		Media:     telegram.NewMedia(d.bot, &http.Client{Timeout: mediaTimeout}, d.logger.Component("media")),
		Access:    d.access,
		Sender:    d.bot,
		Logger:    d.logger.Component("telegram"),
	})
	if err != nil {
		return fmt.Errorf("failed to create update handler: %w", err)
	}
	return nil
}

func runnerSettings(cfg *config.Config) agent.Settings {
	settings := agent.DefaultSettings()
	settings.Model = cfg.AI.Model
	settings.Temperature = cfg.AI.Temperature
	settings.MaxTokens = cfg.AI.MaxTokens
	settings.WorkspaceRoot = cfg.Workspace.Path
	settings.MaxTurns = cfg.Chat.MaxTurns
	settings.Debounce = cfg.Chat.Debounce
	settings.CompletionTimeout = cfg.AI.Timeout
	settings.ToolTimeout = cfg.Chat.ToolTimeout
	if cfg.AI.SystemPrompt != "" {
		settings.SystemPrompt = cfg.AI.SystemPrompt
	}
	settings.ToolPolicy = &toolexecutor.ToolPolicy{
		Allow: cfg.Tools.Allow,
		Deny:  cfg.Tools.Deny,
	}
	return settings
}

// Run takes the instance locks and runs in the configured mode until ctx
// is done (live) or the batch finishes. Losing the election to another
// instance returns ErrAlreadyRunning or store.ErrLeaseHeld.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()
	defer d.close()

	traceID := tracing.NewTraceID()
	log := d.logger.Zerolog().With().Str("trace_id", traceID).Str("mode", string(d.opts.Mode)).Logger()

	if err := d.pidFile.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := d.pidFile.Release(); err != nil {
			log.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	if err := d.lease.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.lease.Release(releaseCtx); err != nil {
			log.Error().Err(err).Msg("Failed to release instance lease")
		}
	}()

	if err := d.sandbox.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sandbox: %w", err)
	}
	defer func() { _ = d.sandbox.Stop(context.Background()) }()

	log.Info().
		Str("workspace", d.policy.Root()).
		Bool("unsafe", d.policy.Unsafe()).
		Str("provider", d.provider.Provider()).
		Msg("Starting closedai")

	d.configureGitIdentity(ctx)

	if _, err := d.queue.Recover(ctx, d.config.Queue.StaleAfter); err != nil {
		log.Warn().Err(err).Msg("Failed to recover stale queue items")
	}

	d.startMetrics()
	d.watchConfig()

	var err error
	switch d.opts.Mode {
	case ModeBatch:
		err = d.runBatch(ctx)
	default:
		err = d.runLive(ctx)
	}

	d.mu.Lock()
	restart := d.restart
	d.mu.Unlock()
	if restart {
		log.Info().Msg("Restarting")
		return ErrRestartRequested
	}
	log.Info().Msg("closedai stopped")
	return err
}

func (d *Daemon) runLive(ctx context.Context) error {
	log := d.logger.Zerolog()

	if _, err := d.bot.Pending(ctx, 0); err != nil {
		if telegram.IsConflict(err) {
			log.Info().Msg("Another bot instance is already polling, exiting")
			return nil
		}
		log.Warn().Err(err).Msg("Failed to check for pending updates")
	}
	if err := d.bot.SetCommands(d.commands.BotCommands()); err != nil {
		log.Warn().Err(err).Msg("Failed to register bot commands")
	}

	loop, err := NewEventLoop(EventLoopConfig{
		QueueSchedule: d.config.Queue.Schedule,
		Queue:         d.queue,
		Lease:         d.lease,
		OnLeaseLost:   d.Stop,
		Lanes:         d.lanes,
		Logger:        d.logger.Zerolog(),
	})
	if err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		loop.Run(ctx)
	}()

	// A queued request is replayed at startup instead of a minute later.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.queue.DequeueOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Queue worker failed")
		}
	}()

	err = d.bot.Poll(ctx, d.handleUpdate)

	d.wg.Wait()
	if !d.lanes.WaitForActive(shutdownTimeout) {
		log.Warn().Msg("Timeout waiting for active runs")
	}
	return err
}

func (d *Daemon) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if err := d.handler.Handle(ctx, update); err != nil {
		zl := d.logger.Zerolog()
		zl.Error().Err(err).Int("update_id", update.UpdateID).Msg("Failed to handle update")
	}
}

// Stop ends a running daemon.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Daemon) requestRestart() {
	d.mu.Lock()
	d.restart = true
	d.mu.Unlock()
	d.Stop()
}

func (d *Daemon) configureGitIdentity(ctx context.Context) {
	if !sandbox.IsGitRepo(ctx, d.sandbox) {
		zl := d.logger.Zerolog()
		zl.Warn().Str("workspace", d.policy.Root()).Msg("Workspace is not a git repository, commits are disabled")
		return
	}
	identity := [][2]string{
		{"user.name", d.config.Workspace.GitUserName},
		{"user.email", d.config.Workspace.GitUserEmail},
	}
	for _, kv := range identity {
		if kv[1] == "" {
			continue
		}
		res, err := sandbox.Git(ctx, d.sandbox, "config", kv[0], kv[1])
		if err != nil || res.ExitCode != 0 {
			zl := d.logger.Zerolog()
			zl.Warn().Err(err).Str("key", kv[0]).Str("output", res.Combined()).Msg("Failed to configure git identity")
		}
	}
}

// close releases everything New created. It is safe to call twice.
func (d *Daemon) close() {
	log := d.logger.Zerolog()

	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.metrics.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics listener")
		}
		cancel()
		d.metrics = nil
	}
	if d.lanes != nil {
		if err := d.lanes.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close command queue")
		}
		d.lanes = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
		d.store = nil
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close audit log")
		}
		d.audit = nil
	}
	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}
