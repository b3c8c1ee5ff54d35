// Package commands wires the moneysync CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{newProvider: plaidProvider})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "moneysync",
		Short:   "Sync bank transactions into a local ledger and categorise them",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $MONEYSYNC_CONFIG or ~/.config/moneysync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newMigrateCommand(opts),
		newInstitutionCommand(opts),
		newSyncCommand(opts),
		newTransactionsCommand(opts),
		newCategorizeCommand(opts),
		newCategoriesCommand(opts),
		newStatsCommand(opts),
		newCleanupCommand(opts),
		newConfigCommand(opts),
		newKeysCommand(opts),
	)

	return rootCmd
}
