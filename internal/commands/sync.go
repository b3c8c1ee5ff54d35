package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/report"
	"github.com/jask/moneysync/internal/service"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var full, force bool

	cmd := &cobra.Command{
		Use:   "sync [institution...]",
		Short: "Pull new, modified and removed transactions from the provider",
		Long: "Sync every linked institution, or only the named ones. Institutions synced within the\n" +
			"cooldown window are skipped unless --force is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				svc, err := a.syncService()
				if err != nil {
					return err
				}
				sum, err := svc.SyncAll(cmd.Context(), service.SyncOptions{Full: full, Force: force, Institutions: args})
				if err != nil {
					return err
				}
				if err := report.SyncSummary(cmd.OutOrStdout(), sum); err != nil {
					return err
				}
				failed := 0
				for _, o := range sum.Outcomes {
					if o.Failed() {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d institution syncs failed", failed, len(sum.Outcomes))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "ignore stored cursors and re-read all history")
	cmd.Flags().BoolVar(&force, "force", false, "sync even inside the cooldown window")
	cmd.AddCommand(newSyncHistoryCommand(opts))

	return cmd
}

func newSyncHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [institution]",
		Short: "Show recent sync runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return withApp(cmd, opts, func(a *app) error {
				runs, err := a.runs.Recent(cmd.Context(), name, limit)
				if err != nil {
					return err
				}
				return report.SyncHistory(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	return cmd
}
