package cli

import (
	"fmt"

	"github.com/harun/closedai/internal/config"
	"github.com/spf13/cobra"
)

var (
	initForce  bool
	initWizard bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the closedai configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file",
	Long: `Write a config file with default settings.
With --wizard you are asked for the Telegram token, the allowed users, the
AI credentials and the workspace first.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration without secrets",
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	configInitCmd.Flags().BoolVar(&initWizard, "wizard", false, "run the interactive configuration wizard")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()

	cfg := config.DefaultConfig()
	if initWizard {
		wizard := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout())
		var err error
		if cfg, err = wizard.Run(); err != nil {
			return fmt.Errorf("configuration failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	if err := config.WriteFile(path, cfg, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", path)
	fmt.Fprintln(out, "Start the bot with: closedai start --poll")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
	return nil
}
