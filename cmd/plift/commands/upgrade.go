package commands

import (
	"github.com/spf13/cobra"

	"github.com/packlift/packlift/pkg/engine"
)

func newUpgradeCommand(version string) *cobra.Command {
	opts := &bootstrapOptions{}

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the installed platform pack",
		Long: `Upgrade the platform to a strictly newer pack version.

Runs the install pipeline plus an upgrade preflight: the platform must
already be installed, its recorded version must parse, and the target
pack version must be strictly newer. The previous version and digest
are recorded as a rollback reference in the bootstrap state.`,
		Example: `  # Upgrade from a registry pack
  plift upgrade --source oci://registry.example.com/platform:1.3.0 \
    --allow-network --net-allowlist registry.example.com

  # Upgrade offline from a local pack
  plift upgrade --source ./platform-1.3.0.gtpack --offline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context(), cmd, opts, engine.OpUpgrade, version)
		},
	}

	bindBootstrapFlags(cmd, opts)

	return cmd
}
