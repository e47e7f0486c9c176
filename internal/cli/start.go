package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/closedai/internal/daemon"
	"github.com/harun/closedai/pkg/store"
	"github.com/spf13/cobra"
)

var (
	pollMode   bool
	retryDelay time.Duration
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the closedai bot",
	Long: `Start the closedai bot.
With --poll the bot long-polls Telegram and replays queued requests every minute
until stopped. Without it the bot runs one batch (see "closedai batch").`,
	RunE: runStart,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process pending messages once and exit",
	Long: `Process pending messages once and exit.
Queued requests are replayed, every update since the last run is answered and
requests that failed transiently get one more attempt before the process exits.
Suitable for running from cron.`,
	RunE: runBatch,
}

func init() {
	startCmd.Flags().BoolVar(&pollMode, "poll", false, "long-poll Telegram until stopped")
	for _, cmd := range []*cobra.Command{startCmd, batchCmd} {
		cmd.Flags().DurationVar(&retryDelay, "retry-delay", daemon.DefaultBatchRetryDelay, "wait before the final batch retry")
	}
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(batchCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if pollMode {
		return runDaemon(cmd, daemon.ModeLive)
	}
	return runDaemon(cmd, daemon.ModeBatch)
}

func runBatch(cmd *cobra.Command, args []string) error {
	return runDaemon(cmd, daemon.ModeBatch)
}

func runDaemon(cmd *cobra.Command, mode daemon.Mode) error {
	cfg, loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	opts := daemon.Options{Mode: mode, BatchRetryDelay: retryDelay}
	if mode == daemon.ModeLive {
		opts.Loader = loader
	}
	d, err := daemon.New(cfg, log, opts)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = d.Run(ctx)
	switch {
	case errors.Is(err, daemon.ErrAlreadyRunning), errors.Is(err, store.ErrLeaseHeld):
		zl := log.Zerolog()
		zl.Info().Err(err).Msg("Another instance is active, exiting")
		return nil
	case errors.Is(err, daemon.ErrRestartRequested):
		log.Close()
		return restartProcess()
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// restartProcess replaces the current process with a fresh copy of itself.
func restartProcess() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
