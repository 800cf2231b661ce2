package commands

import (
	"github.com/spf13/cobra"

	"github.com/packlift/packlift/pkg/engine"
)

func newInstallCommand(version string) *cobra.Command {
	opts := &bootstrapOptions{}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the platform pack",
		Long: `Install the platform from a pack.

This command:
  - Resolves the pack (local path, or oci:// through the verified cache)
  - Loads the archive and applies the signature policy
  - Runs the embedded installer flow over the selected answer transport
  - Writes declared secrets and the configuration patch, rolling both
    back if any write fails
  - Persists the bootstrap state record`,
		Example: `  # Install from a local pack with pre-supplied answers
  plift install --source ./platform.gtpack --answers answers.json

  # Install from a registry, allowing only that host
  plift install --source oci://registry.example.com/platform:1.2.0 \
    --allow-network --net-allowlist registry.example.com

  # Collect answers over an ephemeral HTTP listener
  plift install --source ./platform.gtpack --mode http --allow-network`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context(), cmd, opts, engine.OpInstall, version)
		},
	}

	bindBootstrapFlags(cmd, opts)

	return cmd
}
