package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/report"
)

// errNoChange is returned by `transactions set` when no flag was given.
var errNoChange = errors.New("nothing to change: pass --category, --clear-category, --notes or --tags")

func newTransactionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "List and edit stored transactions",
	}
	cmd.AddCommand(newTransactionsListCommand(opts), newTransactionsSetCommand(opts))
	return cmd
}

type listFlags struct {
	from, to      string
	accounts      []string
	institutions  []string
	min, max      string
	pending       bool
	categories    []string
	uncategorized bool
	search        string
	limit, offset int
}

func (f listFlags) filters() (repository.Filters, error) {
	out := repository.Filters{
		AccountIDs:        f.accounts,
		Institutions:      f.institutions,
		PendingOnly:       f.pending,
		Categories:        f.categories,
		UncategorizedOnly: f.uncategorized,
		Search:            strings.TrimSpace(f.search),
		Limit:             f.limit,
		Offset:            f.offset,
	}
	var err error
	if out.DateStart, err = optionalDate("from", f.from); err != nil {
		return out, err
	}
	if out.DateEnd, err = optionalDate("to", f.to); err != nil {
		return out, err
	}
	if out.AmountMin, err = optionalAmount("min", f.min); err != nil {
		return out, err
	}
	if out.AmountMax, err = optionalAmount("max", f.max); err != nil {
		return out, err
	}
	return out, nil
}

func optionalDate(flag, v string) (*time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	d, err := database.ParseDate(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("--%s: expected YYYY-MM-DD: %w", flag, err)
	}
	return &d, nil
}

func optionalAmount(flag, v string) (*decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &d, nil
}

func newTransactionsListCommand(opts *rootOptions) *cobra.Command {
	var f listFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := f.filters()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				txs, err := a.txs.ReadWithFilters(cmd.Context(), filters)
				if err != nil {
					return err
				}
				return report.Transactions(cmd.OutOrStdout(), txs)
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.from, "from", "", "earliest date (YYYY-MM-DD)")
	fl.StringVar(&f.to, "to", "", "latest date (YYYY-MM-DD)")
	fl.StringSliceVar(&f.accounts, "account", nil, "account id (repeatable)")
	fl.StringSliceVar(&f.institutions, "institution", nil, "institution name (repeatable)")
	fl.StringVar(&f.min, "min", "", "minimum amount")
	fl.StringVar(&f.max, "max", "", "maximum amount")
	fl.BoolVar(&f.pending, "pending", false, "only pending transactions")
	fl.StringSliceVar(&f.categories, "category", nil, "category label (repeatable, any match)")
	fl.BoolVar(&f.uncategorized, "uncategorized", false, "only transactions with no category")
	fl.StringVar(&f.search, "search", "", "substring of name, merchant or description")
	fl.IntVar(&f.limit, "limit", 50, "maximum rows (0 for all)")
	fl.IntVar(&f.offset, "offset", 0, "rows to skip")

	return cmd
}

func newTransactionsSetCommand(opts *rootOptions) *cobra.Command {
	var (
		manual   string
		clearCat bool
		notes    string
		tags     []string
	)

	cmd := &cobra.Command{
		Use:   "set <transaction-id>",
		Short: "Override the category or edit notes and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			if !fl.Changed("category") && !clearCat && !fl.Changed("notes") && !fl.Changed("tags") {
				return errNoChange
			}
			if fl.Changed("category") && clearCat {
				return fmt.Errorf("--category and --clear-category are mutually exclusive")
			}
			id := args[0]
			return withApp(cmd, opts, func(a *app) error {
				ctx := cmd.Context()
				var u repository.TransactionUpdate
				switch {
				case clearCat:
					empty := ""
					u.ManualCategory = &empty
				case fl.Changed("category"):
					label := strings.TrimSpace(manual)
					if canon, ok := a.vocab.Canonical(label); ok {
						label = canon
					} else {
						a.log.Warn().Str("category", label).Msg("category is not in the vocabulary; storing as given")
					}
					u.ManualCategory = &label
				}
				if fl.Changed("notes") {
					u.Notes = &notes
				}
				if fl.Changed("tags") {
					u.Tags = &tags
				}
				ok, err := a.txs.UpdateByID(ctx, id, u)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("transaction %s not found", id)
				}
				tx, err := a.txs.Get(ctx, id)
				if err != nil {
					return err
				}
				return report.Transactions(cmd.OutOrStdout(), []repository.Transaction{*tx})
			})
		},
	}

	cmd.Flags().StringVar(&manual, "category", "", "manual category; takes precedence over all others")
	cmd.Flags().BoolVar(&clearCat, "clear-category", false, "remove the manual category")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma separated tags (replaces existing)")

	return cmd
}
