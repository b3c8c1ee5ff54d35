package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/prefs"
	"github.com/jask/moneysync/internal/report"
)

func newCategoriesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Show or extend the category vocabulary",
	}
	cmd.AddCommand(newCategoriesListCommand(opts), newCategoriesAddCommand(opts))
	return cmd
}

func newCategoriesListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List category groups and labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vocab, err := prefs.Vocabulary(opts.prefsDir())
			if err != nil {
				return err
			}
			return report.Categories(cmd.OutOrStdout(), vocab)
		},
	}
}

func newCategoriesAddCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <group> <label>",
		Short: "Add a label the classifier may assign",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := prefs.AddCategory(opts.prefsDir(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", args[1], args[0])
			return nil
		},
	}
}
