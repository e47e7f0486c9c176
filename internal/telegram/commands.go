package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/closedai/internal/logger"
	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/pkg/sandbox"
	"github.com/harun/closedai/pkg/session"
	"github.com/harun/closedai/pkg/store"
	"github.com/rs/zerolog"
)

const (
	defaultLogLimit  = 10
	maxLogLimit      = 50
	defaultTailLimit = 20
	previewLength    = 30
)

// Sender delivers command replies.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) (string, error)
}

// ActivityStore is the read side of the store used by commands.
type ActivityStore interface {
	RecentActivity(ctx context.Context, limit int) ([]session.Turn, error)
	Activity(ctx context.Context) ([]store.ConversationActivity, error)
	ListQueueItems(ctx context.Context) ([]session.QueueItem, error)
}

// CommandFunc is a function that handles a command
type CommandFunc func(ctx context.Context, cmd CommandContext) (string, error)

// CommandContext contains command metadata
type CommandContext struct {
	ConversationID string
	SenderID       string
	Command        string
	Args           []string
}

type command struct {
	description string
	fn          CommandFunc
}

// CommandsConfig holds what system commands report on.
type CommandsConfig struct {
	Sender  Sender
	Store   ActivityStore
	Sandbox sandbox.Sandbox

	// LogFile is read by /tail; TailLimit caps its line count.
	LogFile   string
	TailLimit int

	// Mode is shown by /status ("Polling" or "Batch").
	Mode    string
	Restart func()
	Audit   *observability.AuditLogger
	Logger  zerolog.Logger
}

// Commands answers system commands without involving the model.
type Commands struct {
	cfg      CommandsConfig
	logger   zerolog.Logger
	started  time.Time
	handlers map[string]command
	order    []string
}

// NewCommands creates the command set with the built-in commands registered.
func NewCommands(cfg CommandsConfig) *Commands {
	if cfg.TailLimit <= 0 {
		cfg.TailLimit = maxLogLimit
	}
	c := &Commands{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("module", "commands").Logger(),
		started:  time.Now(),
		handlers: make(map[string]command),
	}

	c.Register("status", "Show system status & disk usage", c.status)
	c.Register("stats", "Show usage statistics", c.stats)
	c.Register("log", "Show last n messages (default 10)", c.log)
	c.Register("tail", "Show the last n lines of the log file", c.tail)
	c.Register("git", "Show git branch & status, or run git <args>", c.git)
	c.Register("gitlog", "Show last 5 git commits", c.gitlog)
	c.Register("queue", "Show queued tasks", c.queue)
	c.Register("ping", "Check if bot is alive", c.ping)
	c.Register("restart", "Restart the bot process", c.restart)
	c.Register("help", "Show this message", c.help)
	return c
}

// Register adds or replaces a command handler
func (c *Commands) Register(name, description string, fn CommandFunc) {
	if _, exists := c.handlers[name]; !exists {
		c.order = append(c.order, name)
	}
	c.handlers[name] = command{description: description, fn: fn}
}

// Has reports whether name is a registered command.
func (c *Commands) Has(name string) bool {
	_, ok := c.handlers[strings.ToLower(name)]
	return ok
}

// BotCommands lists the commands for the Telegram menu.
func (c *Commands) BotCommands() []tgbotapi.BotCommand {
	out := make([]tgbotapi.BotCommand, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, tgbotapi.BotCommand{Command: name, Description: c.handlers[name].description})
	}
	return out
}

// Handle runs a command and sends its reply.
func (c *Commands) Handle(ctx context.Context, cmd CommandContext) error {
	cmd.Command = strings.ToLower(cmd.Command)
	handler, ok := c.handlers[cmd.Command]
	if !ok {
		return fmt.Errorf("unknown command: /%s", cmd.Command)
	}

	c.logger.Info().
		Str("conversation_id", cmd.ConversationID).
		Str("command", cmd.Command).
		Strs("args", cmd.Args).
		Msg("Executing command")

	reply, err := handler.fn(ctx, cmd)
	status := "ok"
	if err != nil {
		c.logger.Warn().Err(err).Str("command", cmd.Command).Msg("Command failed")
		reply = "❌ " + err.Error()
		status = "error"
	}
	c.cfg.Audit.RecordCommand(ctx, cmd.ConversationID, cmd.Command, status)
	if reply == "" || c.cfg.Sender == nil {
		return nil
	}
	if _, err := c.cfg.Sender.Send(ctx, cmd.ConversationID, reply); err != nil {
		c.logger.Warn().Err(err).Str("command", cmd.Command).Msg("Failed to send command reply")
	}
	return nil
}

func (c *Commands) status(ctx context.Context, _ CommandContext) (string, error) {
	version := "unknown"
	disk := "unknown"
	root := ""
	unsafe := false
	if sb := c.cfg.Sandbox; sb != nil {
		root = sb.Policy().Root()
		unsafe = sb.Policy().Unsafe()
		if res, err := sandbox.Git(ctx, sb, "rev-parse", "--short", "HEAD"); err == nil && res.ExitCode == 0 {
			version = strings.TrimSpace(string(res.Stdout))
		}
		if res, err := sb.Shell(ctx, `df -h . | tail -1 | awk '{print $5}'`); err == nil && res.ExitCode == 0 {
			disk = strings.TrimSpace(string(res.Stdout))
		}
	}

	queued := 0
	if c.cfg.Store != nil {
		if items, err := c.cfg.Store.ListQueueItems(ctx); err == nil {
			queued = len(items)
		}
	}

	mode := c.cfg.Mode
	if mode == "" {
		mode = "Polling"
	}
	safety := "on"
	if unsafe {
		safety = "off (unsafe mode)"
	}

	var b strings.Builder
	b.WriteString("✅ *System Status*\n\n")
	fmt.Fprintf(&b, "⏱ *Uptime:* %s\n", formatUptime(time.Since(c.started)))
	fmt.Fprintf(&b, "💾 *Disk Usage:* %s\n", disk)
	fmt.Fprintf(&b, "📦 *Version:* `%s`\n", version)
	fmt.Fprintf(&b, "⚙️ *Mode:* %s\n", mode)
	fmt.Fprintf(&b, "📂 *Root:* `%s`\n", root)
	fmt.Fprintf(&b, "🛡 *Safety checks:* %s\n", safety)
	fmt.Fprintf(&b, "⏳ *Queued:* %d", queued)
	return b.String(), nil
}

func (c *Commands) stats(ctx context.Context, _ CommandContext) (string, error) {
	if c.cfg.Store == nil {
		return "", errors.New("no store configured")
	}
	activity, err := c.cfg.Store.Activity(ctx)
	if err != nil {
		return "", err
	}

	var users, models, tools int
	for _, a := range activity {
		users += a.User
		models += a.Model
		tools += a.Tool
	}

	var b strings.Builder
	b.WriteString("📊 *Usage Statistics*\n\n")
	fmt.Fprintf(&b, "Total Log Entries: %d\n", users+models+tools)
	fmt.Fprintf(&b, "👤 User Messages: %d\n", users)
	fmt.Fprintf(&b, "🤖 Bot Responses: %d\n", models)
	fmt.Fprintf(&b, "🔧 Tool Results: %d\n", tools)
	fmt.Fprintf(&b, "Unique Users: %d\n", len(activity))
	if len(activity) > 0 {
		b.WriteString("\n*User Activity:*\n")
		for _, a := range activity {
			fmt.Fprintf(&b, "• `%s`: %d\n", a.ConversationID, a.User)
		}
	}

	if snapshot, err := observability.Snapshot(); err == nil && snapshot != "" {
		fmt.Fprintf(&b, "\n*Metrics:*\n```\n%s\n```", strings.TrimSpace(snapshot))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) log(ctx context.Context, cmd CommandContext) (string, error) {
	if c.cfg.Store == nil {
		return "", errors.New("no store configured")
	}
	limit := parseLimit(cmd.Args, defaultLogLimit, maxLogLimit)

	turns, err := c.cfg.Store.RecentActivity(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(turns) == 0 {
		return "No history found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📜 *Recent Activity (Last %d):*\n\n", limit)
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		fmt.Fprintf(&b, "`[%s]` %s *%s*: %s\n",
			turn.Timestamp.Format("15:04:05"), roleIcon(turn.Role), turn.ConversationID, preview(describeTurn(turn)))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) tail(_ context.Context, cmd CommandContext) (string, error) {
	if c.cfg.LogFile == "" {
		return "No log file configured.", nil
	}
	limit := parseLimit(cmd.Args, defaultTailLimit, c.cfg.TailLimit)

	lines, err := logger.Tail(c.cfg.LogFile, limit)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "Log file is empty.", nil
	}
	return fmt.Sprintf("🧾 *Log (last %d lines):*\n```\n%s\n```", len(lines), strings.Join(lines, "\n")), nil
}

func (c *Commands) git(ctx context.Context, cmd CommandContext) (string, error) {
	sb := c.cfg.Sandbox
	if sb == nil {
		return "", errors.New("no workspace configured")
	}

	if len(cmd.Args) > 0 {
		res, err := sandbox.Git(ctx, sb, cmd.Args...)
		if err != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(cmd.Args, " "), err)
		}
		out := strings.TrimSpace(res.Combined())
		if out == "" {
			out = fmt.Sprintf("(exit %d, no output)", res.ExitCode)
		}
		return fmt.Sprintf("🎋 `git %s`\n```\n%s\n```", strings.Join(cmd.Args, " "), out), nil
	}

	branch, err := sandbox.Git(ctx, sb, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || branch.ExitCode != 0 {
		return "", fmt.Errorf("failed to fetch git info: %s", gitFailure(branch, err))
	}
	status, err := sandbox.Git(ctx, sb, "status", "--short")
	if err != nil || status.ExitCode != 0 {
		return "", fmt.Errorf("failed to fetch git info: %s", gitFailure(status, err))
	}

	summary := strings.TrimSpace(string(status.Stdout))
	if summary == "" {
		summary = "Clean"
	}
	return fmt.Sprintf("🎋 *Git Info*\n\n*Branch:* %s\n*Status:*\n```\n%s\n```",
		strings.TrimSpace(string(branch.Stdout)), summary), nil
}

func (c *Commands) gitlog(ctx context.Context, _ CommandContext) (string, error) {
	sb := c.cfg.Sandbox
	if sb == nil {
		return "", errors.New("no workspace configured")
	}
	res, err := sandbox.Git(ctx, sb, "log", "-n", "5", "--pretty=format:%h - %s (%cr)")
	if err != nil || res.ExitCode != 0 {
		return "", fmt.Errorf("failed to fetch git log: %s", gitFailure(res, err))
	}
	return fmt.Sprintf("🌳 *Recent Commits:*\n\n```\n%s\n```", strings.TrimSpace(string(res.Stdout))), nil
}

func (c *Commands) queue(ctx context.Context, _ CommandContext) (string, error) {
	if c.cfg.Store == nil {
		return "", errors.New("no store configured")
	}
	items, err := c.cfg.Store.ListQueueItems(ctx)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "📭 Queue is empty.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏳ *Current Queue (%d):*\n\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "• `%s` %s (Attempts: %d)\n", preview(item.UserMessage), item.Status, item.Attempts)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) ping(context.Context, CommandContext) (string, error) {
	return "🏓 Pong!", nil
}

func (c *Commands) restart(ctx context.Context, cmd CommandContext) (string, error) {
	if c.cfg.Restart == nil {
		return "", errors.New("restart is not available in this mode")
	}
	if c.cfg.Sender != nil {
		if _, err := c.cfg.Sender.Send(ctx, cmd.ConversationID, "🔄 Restarting bot..."); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send restart notice")
		}
	}
	c.cfg.Restart()
	return "", nil
}

func (c *Commands) help(context.Context, CommandContext) (string, error) {
	var b strings.Builder
	b.WriteString("🤖 *ClosedAI Help*\n\n")
	for _, name := range c.order {
		fmt.Fprintf(&b, "/%s - %s\n", name, c.handlers[name].description)
	}
	b.WriteString("\nAny other message will be processed by the AI.")
	return b.String(), nil
}

func parseLimit(args []string, def, max int) int {
	if len(args) == 0 {
		return def
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func roleIcon(role session.Role) string {
	switch role {
	case session.RoleModel:
		return "🤖"
	case session.RoleTool:
		return "🔧"
	default:
		return "👤"
	}
}

func describeTurn(turn session.Turn) string {
	var parts []string
	for _, p := range turn.Parts {
		switch {
		case p.Text != "":
			parts = append(parts, p.Text)
		case p.ToolCall != nil:
			parts = append(parts, "[Tool: "+p.ToolCall.Name+"]")
		case p.ToolResult != nil:
			parts = append(parts, "[Result: "+p.ToolResult.Name+"]")
		case p.InlineMedia != nil:
			parts = append(parts, "[Media: "+p.InlineMedia.MIMEType+"]")
		}
	}
	return strings.Join(parts, " ")
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "..."
	}
	return text
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func gitFailure(res sandbox.ExecuteResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if out := strings.TrimSpace(res.Combined()); out != "" {
		return out
	}
	return fmt.Sprintf("exit status %d", res.ExitCode)
}
