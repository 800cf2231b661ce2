package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plift",
		Short: "Packlift - Multi-Cloud Platform Deployment Engine",
		Long: `Packlift deploys versioned application bundles ("packs") across clouds.

The bootstrap subsystem installs and upgrades the platform pack itself:
  - Content-addressed pack fetch with digest verification
  - Embedded installer flows with pluggable answer transports
    (terminal, pre-supplied JSON, HTTP listener, pub/sub)
  - Atomic commit of installer output with best-effort rollback
  - Durable bootstrap state with upgrade preflight`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (.cue, .yaml, or .json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand(version))
	rootCmd.AddCommand(newUpgradeCommand(version))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
