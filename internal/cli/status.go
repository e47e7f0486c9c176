package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/harun/closedai/internal/config"
	"github.com/harun/closedai/internal/daemon"
	"github.com/harun/closedai/pkg/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bot status",
	Long:  `Show whether a closedai process is running, its instance lease and the retry queue.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidFile := cfg.PIDPath()
	if pid, err := daemon.ReadPID(pidFile); err == nil && daemon.ProcessAlive(pid) {
		fmt.Fprintf(out, "Status: running\n")
		fmt.Fprintf(out, "PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	} else {
		fmt.Fprintln(out, "Status: stopped")
	}

	return printStoreStatus(cmd.Context(), out, cfg)
}

// printStoreStatus reports the lease and queue without creating a database.
func printStoreStatus(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return nil
	}

	st, err := store.Open(store.Config{Path: cfg.DatabasePath(), Logger: zerolog.Nop()})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	lease, err := st.GetLease(ctx, daemon.InstanceLease)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fmt.Fprintln(out, "Lease: free")
	case err != nil:
		return err
	case lease.Live(time.Now()):
		fmt.Fprintf(out, "Lease: %s (last heartbeat %s ago)\n", lease.Holder, formatDuration(time.Since(lease.UpdatedAt)))
	default:
		fmt.Fprintf(out, "Lease: expired (%s)\n", lease.Holder)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Queue: %d pending, %d processing\n", stats.Pending, stats.Processing)
	fmt.Fprintf(out, "Conversations: %d (%d turns)\n", stats.Conversations, stats.Turns)
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
