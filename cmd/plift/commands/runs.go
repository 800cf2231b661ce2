package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packlift/packlift/pkg/config"
	"github.com/packlift/packlift/pkg/journal"
)

func newRunsCommand() *cobra.Command {
	var (
		limit       int
		journalPath string
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List journaled bootstrap runs",
		Long: `List install and upgrade runs recorded in the run journal, newest
first. With a run id, show that run and its status transitions.`,
		Example: `  # Last ten runs
  plift runs

  # One run with its status trail
  plift runs 6e8bb0c2-6f62-4f1a-9c87-1a2b3c4d5e6f`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.NewLoader().Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("journal") {
				settings.JournalPath = journalPath
			}

			j, err := journal.New(journal.Config{Path: settings.JournalPath})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := j.Init(ctx); err != nil {
				return err
			}
			defer j.Close()
			if err := j.Migrate(ctx); err != nil {
				return err
			}

			if len(args) == 1 {
				return showRun(cmd, j, args[0])
			}

			runs, err := j.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(runs)
				return nil
			}
			if len(runs) == 0 {
				fmt.Println("no runs journaled")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("%s  %-8s  %-11s  %s@%s\n",
					run.StartedAt.UTC().Format("2006-01-02 15:04:05"),
					run.Operation, run.Status, run.PackVersion, shortDigest(run.PackDigest))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max runs to list")
	cmd.Flags().StringVar(&journalPath, "journal", "", "run journal database path")

	return cmd
}

func showRun(cmd *cobra.Command, j *journal.Journal, id string) error {
	ctx := cmd.Context()
	run, err := j.GetRun(ctx, id)
	if err != nil {
		return err
	}
	events, err := j.EventsForRun(ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(struct {
			Run    *journal.Run     `json:"run"`
			Events []*journal.Event `json:"events"`
		}{run, events})
		return nil
	}

	fmt.Printf("run:       %s\n", run.ID)
	fmt.Printf("operation: %s\n", run.Operation)
	fmt.Printf("source:    %s\n", run.PackRef)
	fmt.Printf("pack:      %s@%s\n", run.PackVersion, shortDigest(run.PackDigest))
	fmt.Printf("status:    %s\n", run.Status)
	if run.Error != nil {
		fmt.Printf("error:     %s\n", *run.Error)
	}
	for _, ev := range events {
		fmt.Printf("  %s  %s\n", ev.CreatedAt.UTC().Format("15:04:05"), ev.Status)
	}
	return nil
}

func shortDigest(digest string) string {
	if len(digest) > 19 {
		return digest[:19]
	}
	if digest == "" {
		return "-"
	}
	return digest
}
