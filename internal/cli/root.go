package cli

import (
	"fmt"
	"path/filepath"

	"github.com/harun/closedai/internal/config"
	"github.com/harun/closedai/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	cfgFile   string
	logLevel  string
	workspace string
	unsafe    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "closedai",
	Short: "closedai - chat-driven coding agent",
	Long: `closedai lets you change a repository by chatting with an AI agent on Telegram.
The agent reads files, runs tools in a sandboxed workspace and commits the result.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.closedai/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "repository the agent works in (overrides workspace.path)")
	rootCmd.PersistentFlags().BoolVar(&unsafe, "unsafe", false, "disable protected-file and shell denylist checks")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig reads the config file and environment, then applies the
// command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("workspace") {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid workspace path: %w", err)
		}
		cfg.Workspace.Path = abs
	}
	if flags.Changed("unsafe") {
		cfg.Workspace.UnsafeMode = unsafe
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	return cfg, loader, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		Console:    true,
		Pretty:     cfg.Log.Pretty,
		Redact:     cfg.Log.Redact,
		Secrets:    []string{cfg.Telegram.BotToken, cfg.AI.APIKey},
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
}
