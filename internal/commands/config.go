package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(newConfigInitCommand(opts), newConfigPathCommand(opts))
	return cmd
}

func newConfigInitCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.path()
			if config.Exists(path) && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := config.SaveFile(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func newConfigPathCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), opts.path())
			return nil
		},
	}
}

func newKeysCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Store API secrets outside the config file",
		Long: "Secrets are sealed with the key in $MONEYSYNC_SECRET_KEY (or a per-user fallback).\n" +
			"Known names: " + keyPlaidSecret + ", " + keyGemini + ".",
	}
	cmd.AddCommand(newKeysSetCommand(opts), newKeysDeleteCommand(opts))
	return cmd
}

func newKeysSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[1]) == "" {
				return fmt.Errorf("empty value for %s", args[0])
			}
			return withApp(cmd, opts, func(a *app) error {
				store, err := a.keyStore()
				if err != nil {
					return err
				}
				if err := store.Store(args[0], strings.TrimSpace(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
				return nil
			})
		},
	}
}

func newKeysDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				store, err := a.keyStore()
				if err != nil {
					return err
				}
				if err := store.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
