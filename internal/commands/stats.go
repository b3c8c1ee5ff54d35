package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/report"
	"github.com/jask/moneysync/internal/service"
)

func newCategorizeCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "categorize [transaction-id...]",
		Short: "Classify transactions that have no ai or manual category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				svc, err := a.categorizer()
				if err != nil {
					return err
				}
				var res service.CategorizeResult
				if len(args) > 0 {
					res, err = svc.CategorizeIDs(cmd.Context(), args)
				} else {
					res, err = svc.CategorizeUnclassified(cmd.Context(), limit)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Processed %d: categorised %d, skipped %d, errors %d\n",
					res.Processed, res.Categorized, res.Skipped, len(res.Errors))
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  %s\n", e)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum transactions to classify (0 for all)")

	return cmd
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	var (
		from, to     string
		institutions []string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise spending, income and categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := optionalDate("from", from)
			if err != nil {
				return err
			}
			end, err := optionalDate("to", to)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				svc := &service.ReportService{Transactions: a.txs, Accounts: a.accounts, Vocabulary: a.vocab}
				sum, err := svc.Summary(cmd.Context(), service.SummaryOptions{DateStart: start, DateEnd: end, Institutions: institutions})
				if err != nil {
					return err
				}
				return report.Summary(cmd.OutOrStdout(), sum)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "earliest date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&institutions, "institution", nil, "institution name (repeatable)")

	return cmd
}

func newCleanupCommand(opts *rootOptions) *cobra.Command {
	var (
		olderThan int
		optimize  bool
		reset     bool
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale pending transactions and compact the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reset && !yes {
				return fmt.Errorf("--reset deletes all transactions and accounts; pass --yes to confirm")
			}
			return withApp(cmd, opts, func(a *app) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()
				svc := &service.MaintenanceService{DB: a.db, Transactions: a.txs, Log: a.log}
				if reset {
					if err := svc.Reset(ctx); err != nil {
						return err
					}
					fmt.Fprintln(out, "Removed all transactions, accounts and sync history; institution links kept")
					return nil
				}
				n, err := svc.RemoveStalePending(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d pending transactions older than %d days\n", n, olderThan)
				if optimize {
					if err := svc.Optimize(ctx); err != nil {
						return err
					}
					fmt.Fprintln(out, "Database optimised")
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&olderThan, "pending-older-than", 30, "age in days after which pending rows are removed")
	cmd.Flags().BoolVar(&optimize, "optimize", false, "run ANALYZE and VACUUM afterwards")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete all synced data but keep institution links")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm --reset")

	return cmd
}
