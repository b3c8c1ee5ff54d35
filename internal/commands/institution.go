package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/report"
	"github.com/jask/moneysync/internal/service"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Database ready at %s\n", a.cfg.Database.Path)
				return nil
			})
		},
	}
}

func newInstitutionCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "institution",
		Aliases: []string{"institutions"},
		Short:   "Manage linked institutions",
	}
	cmd.AddCommand(newInstitutionAddCommand(opts), newInstitutionListCommand(opts), newInstitutionImportCommand(opts))
	return cmd
}

func newInstitutionAddCommand(opts *rootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Link an institution with its access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				svc := &service.InstitutionService{Institutions: a.insts, Log: a.log}
				if err := svc.Link(cmd.Context(), args[0], token); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Linked %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "provider access token (required)")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newInstitutionListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked institutions and their sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				insts, err := a.insts.List(cmd.Context())
				if err != nil {
					return err
				}
				return report.Institutions(cmd.OutOrStdout(), insts)
			})
		},
	}
}

func newInstitutionImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <tokens.json>",
		Short: "Import access tokens and cursors from a legacy token file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open token file: %w", err)
			}
			defer f.Close()

			return withApp(cmd, opts, func(a *app) error {
				svc := &service.InstitutionService{Institutions: a.insts, Log: a.log}
				res, err := svc.ImportTokens(cmd.Context(), f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %d, skipped %d already linked\n", len(res.Imported), len(res.Skipped))
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  error: %s\n", e)
				}
				return nil
			})
		},
	}
}
