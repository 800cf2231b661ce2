package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/packlift/packlift/pkg/config"
	"github.com/packlift/packlift/pkg/state"
)

func newStatusCommand() *cobra.Command {
	var (
		stateBackend string
		dataDir      string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the installed platform state",
		Long: `Show the persisted bootstrap state: installed version, pack digest,
install and upgrade timestamps, and the rollback reference. Read-only.`,
		Example: `  # Human-readable status
  plift status

  # Machine-readable status
  plift status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.NewLoader().Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("data-dir") {
				settings.DataDir = dataDir
				settings.StateBackend = ""
				settings.Normalize()
			}
			if cmd.Flags().Changed("state-backend") {
				settings.StateBackend = stateBackend
			}

			store, err := state.ParseBackend(settings.StateBackend)
			if err != nil {
				return err
			}
			st, err := store.Load()
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(st)
				return nil
			}
			if st == nil {
				fmt.Println("platform not installed")
				return nil
			}
			printState(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&stateBackend, "state-backend", "", "bootstrap state backend URI (file:<path>)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "root directory for plift-managed files")

	return cmd
}

func printState(st *state.BootstrapState) {
	fmt.Printf("version:      %s\n", strOrDash(st.Version))
	fmt.Printf("digest:       %s\n", strOrDash(st.Digest))
	fmt.Printf("environment:  %s\n", strOrDash(st.EnvironmentKind))
	fmt.Printf("installed_at: %s\n", tsOrDash(st.InstalledAt))
	if st.LastUpgradeAt != nil {
		fmt.Printf("upgraded_at:  %s\n", tsOrDash(st.LastUpgradeAt))
	}
	if st.RollbackRef != nil {
		fmt.Printf("rollback_ref: %s\n", *st.RollbackRef)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func tsOrDash(ts *int64) string {
	if ts == nil {
		return "-"
	}
	return time.Unix(*ts, 0).UTC().Format(time.RFC3339)
}
