// Package reconcile commits and pushes whatever a run left in the workspace.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/internal/tracing"
	"github.com/harun/closedai/pkg/sandbox"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxDiffChars caps the staged diff handed to the message generator.
	MaxDiffChars = 10000

	// FallbackMessage is used when no message can be generated.
	FallbackMessage = "closedai: automatic update"

	maxSubjectLen     = 72
	generationTimeout = time.Minute
)

// Generator produces a plain-text completion.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Notifier reports commit outcomes to the conversation.
type Notifier interface {
	Send(ctx context.Context, conversationID, text string) (string, error)
}

// Config holds reconciler configuration
type Config struct {
	Sandbox   sandbox.Sandbox
	Generator Generator
	Model     string
	Notifier  Notifier
	Logger    zerolog.Logger
}

// Reconciler stages, commits and pushes workspace changes.
type Reconciler struct {
	sandbox   sandbox.Sandbox
	generator Generator
	model     string
	notifier  Notifier
	logger    zerolog.Logger
}

// New creates a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Sandbox == nil {
		return nil, errors.New("sandbox is required")
	}
	return &Reconciler{
		sandbox:   cfg.Sandbox,
		generator: cfg.Generator,
		model:     cfg.Model,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
	}, nil
}

// Reconcile commits pending changes and pushes them to the current branch's
// remote. A clean tree or a workspace outside git is a no-op. A failed push
// is reported but the local commit is kept.
func (r *Reconciler) Reconcile(ctx context.Context, conversationID string) error {
	ctx, span := tracing.StartSpan(ctx, "closedai.reconcile", "reconcile.run",
		attribute.String("conversation_id", conversationID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if !sandbox.IsGitRepo(ctx, r.sandbox) {
		logger.Debug().Msg("Workspace is not a git repository, skipping commit")
		return nil
	}

	status, err := r.git(ctx, StageStatus, "status", "--porcelain")
	if err != nil {
		return r.fail(ctx, span, conversationID, err)
	}
	if strings.TrimSpace(status) == "" {
		logger.Debug().Msg("Workspace clean, nothing to commit")
		return nil
	}

	if _, err := r.git(ctx, StageAdd, "add", "-A"); err != nil {
		return r.fail(ctx, span, conversationID, err)
	}
	diff, err := r.git(ctx, StageDiff, "diff", "--cached")
	if err != nil {
		return r.fail(ctx, span, conversationID, err)
	}
	if strings.TrimSpace(diff) == "" {
		return nil
	}

	message := r.commitMessage(ctx, diff, logger)
	if _, err := r.git(ctx, StageCommit, "commit", "-m", message); err != nil {
		return r.fail(ctx, span, conversationID, err)
	}
	observability.RecordCommit(string(StageCommit), true)
	logger.Info().Str("message", message).Msg("Committed workspace changes")

	remote, branch := r.upstream(ctx)
	if remote == "" {
		r.notify(ctx, conversationID, fmt.Sprintf("📦 Committed locally: %s", message))
		return nil
	}

	if _, err := r.git(ctx, StagePush, "push", remote, branch); err != nil {
		observability.RecordCommit(string(StagePush), false)
		tracing.RecordError(span, err)
		logger.Warn().Err(err).Str("remote", remote).Msg("Push failed, keeping local commit")
		r.notify(ctx, conversationID, fmt.Sprintf("📦 Committed: %s\n⚠️ Push failed: %s", message, summarize(err)))
		return err
	}
	observability.RecordCommit(string(StagePush), true)
	r.notify(ctx, conversationID, fmt.Sprintf("📦 Committed and pushed to %s/%s: %s", remote, branch, message))
	return nil
}

func (r *Reconciler) fail(ctx context.Context, span trace.Span, conversationID string, err error) error {
	tracing.RecordError(span, err)
	var rerr *Error
	stage := "unknown"
	if errors.As(err, &rerr) {
		stage = string(rerr.Stage)
	}
	observability.RecordCommit(stage, false)
	r.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Reconciliation failed")
	r.notify(ctx, conversationID, "⚠️ Could not commit changes: "+summarize(err))
	return err
}

// commitMessage asks the generator for a one-line subject, falling back to
// FallbackMessage.
func (r *Reconciler) commitMessage(ctx context.Context, diff string, logger zerolog.Logger) string {
	if r.generator == nil {
		return FallbackMessage
	}

	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	out, err := r.generator.Generate(genCtx, r.model, CommitPrompt(diff))
	if err != nil {
		logger.Warn().Err(err).Msg("Commit message generation failed, using fallback")
		return FallbackMessage
	}
	if msg := CleanMessage(out); msg != "" {
		return msg
	}
	return FallbackMessage
}

// upstream returns the remote and branch to push to. The remote is empty when
// the repository has none.
func (r *Reconciler) upstream(ctx context.Context) (string, string) {
	branch, err := r.git(ctx, StagePush, "rev-parse", "--abbrev-ref", "HEAD")
	branch = strings.TrimSpace(branch)
	if err != nil || branch == "" || branch == "HEAD" {
		return "", ""
	}

	if remote, err := r.git(ctx, StagePush, "config", "--get", "branch."+branch+".remote"); err == nil && strings.TrimSpace(remote) != "" {
		return strings.TrimSpace(remote), branch
	}

	remotes, err := r.git(ctx, StagePush, "remote")
	if err != nil {
		return "", ""
	}
	names := strings.Fields(remotes)
	for _, name := range names {
		if name == "origin" {
			return name, branch
		}
	}
	if len(names) > 0 {
		return names[0], branch
	}
	return "", ""
}

func (r *Reconciler) git(ctx context.Context, stage Stage, args ...string) (string, error) {
	res, err := sandbox.Git(ctx, r.sandbox, args...)
	if err != nil {
		return "", &Error{Stage: stage, Output: strings.TrimSpace(res.Combined()), Err: err}
	}
	if res.ExitCode != 0 {
		return "", &Error{
			Stage:  stage,
			Output: strings.TrimSpace(res.Combined()),
			Err:    fmt.Errorf("exit code %d", res.ExitCode),
		}
	}
	return string(res.Stdout), nil
}

func (r *Reconciler) notify(ctx context.Context, conversationID, text string) {
	if r.notifier == nil {
		return
	}
	if _, err := r.notifier.Send(ctx, conversationID, text); err != nil {
		observability.RecordChannelError("send")
		r.logger.Warn().Err(err).Msg("Failed to send commit report")
	}
}

// CommitPrompt builds the message-generation prompt for a staged diff.
func CommitPrompt(diff string) string {
	if len(diff) > MaxDiffChars {
		cut := MaxDiffChars
		for cut > 0 && !utf8.RuneStart(diff[cut]) {
			cut--
		}
		diff = diff[:cut] + "\n... (diff truncated)"
	}
	return "Write a one-line git commit message (imperative mood, at most 72 characters) " +
		"for the following staged changes. Reply with the message only.\n\n" + diff
}

// CleanMessage reduces generated text to a single commit subject line.
func CleanMessage(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.Trim(s, "`\"' "))
	if runes := []rune(s); len(runes) > maxSubjectLen {
		s = strings.TrimSpace(string(runes[:maxSubjectLen]))
	}
	return s
}

func summarize(err error) string {
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
