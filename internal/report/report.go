// Package report renders command output as styled terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/service"
)

const descWidth = 40

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func render(w io.Writer, title string, t *table.Table) error {
	_, err := fmt.Fprintln(w, titleStyle.Render(title)+"\n"+t.String())
	return err
}

// SyncSummary renders one row per institution plus skipped ones.
func SyncSummary(w io.Writer, s service.SyncSummary) error {
	t := newTable("Institution", "State", "Accounts", "Synced", "New", "Updated", "Dupes", "Removed", "Errors", "Took")
	for _, o := range s.Outcomes {
		state := okStyle.Render(string(o.State))
		if o.Failed() {
			state = failStyle.Render(string(o.State))
		}
		t.Row(o.Institution, state, itoa(o.AccountsSynced), itoa(o.TransactionsSynced), itoa(o.NewCount),
			itoa(o.UpdatedCount), itoa(o.DuplicateCount), itoa(o.RemovedCount), errCount(len(o.Errors)),
			o.Duration.Round(time.Millisecond).String())
	}
	for _, name := range s.Skipped {
		t.Row(name, mutedStyle.Render("SKIPPED"), "", "", "", "", "", "", "", "")
	}
	if err := render(w, "Sync", t); err != nil {
		return err
	}
	for _, o := range s.Outcomes {
		for _, e := range o.Errors {
			if _, err := fmt.Fprintln(w, warnStyle.Render(o.Institution+": "+e)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Transactions renders a listing with the effective category.
func Transactions(w io.Writer, txs []repository.Transaction) error {
	t := newTable("Date", "Amount", "Description", "Category", "Source", "Account", "ID")
	for _, tx := range txs {
		desc := tx.Name
		if tx.MerchantName != "" && !strings.EqualFold(tx.MerchantName, tx.Name) {
			desc = tx.MerchantName + " · " + tx.Name
		}
		if tx.Pending {
			desc = pendingStyle.Render("(pending) ") + desc
		}
		t.Row(database.FormatDate(tx.Date), Amount(tx.Amount), truncate(desc, descWidth),
			truncate(tx.EffectiveCategory(), 32), string(tx.CategorySource()), tx.AccountID, tx.ID)
	}
	if err := render(w, fmt.Sprintf("Transactions (%d)", len(txs)), t); err != nil {
		return err
	}
	return nil
}

// Institutions renders linked institutions and their sync state.
func Institutions(w io.Writer, insts []repository.Institution) error {
	t := newTable("Institution", "Cursor", "Last sync")
	for _, in := range insts {
		cursor := mutedStyle.Render("none")
		if in.Cursor != nil && *in.Cursor != "" {
			cursor = truncate(*in.Cursor, 24)
		}
		last := mutedStyle.Render("never")
		if in.LastSyncAt != nil {
			last = in.LastSyncAt.Local().Format("2006-01-02 15:04")
		}
		t.Row(in.Name, cursor, last)
	}
	return render(w, "Institutions", t)
}

// SyncHistory renders recorded sync runs.
func SyncHistory(w io.Writer, runs []repository.SyncRun) error {
	t := newTable("Started", "Institution", "State", "Full", "New", "Updated", "Dupes", "Removed", "Errors")
	for _, r := range runs {
		state := okStyle.Render(r.State)
		if r.State == string(service.StateFailed) {
			state = failStyle.Render(r.State)
		}
		full := ""
		if r.FullSync {
			full = "yes"
		}
		t.Row(r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Institution, state, full, itoa(r.NewCount),
			itoa(r.UpdatedCount), itoa(r.DuplicateCount), itoa(r.RemovedCount), errCount(len(r.Errors)))
	}
	return render(w, "Sync history", t)
}

// Summary renders totals, the category breakdown and the monthly trend.
func Summary(w io.Writer, s service.Summary) error {
	lines := []string{
		kv("Transactions", itoa(s.Transactions)),
		kv("Pending", itoa(s.Pending)),
		kv("Accounts", itoa(s.Accounts)),
		kv("Spending", Amount(s.Spending)),
		kv("Income", creditStyle.Render(Money(s.Income))),
		kv("Net", valueStyle.Render(Money(s.Net))),
	}
	if s.Earliest != nil && s.Latest != nil {
		lines = append(lines, kv("Range", database.FormatDate(*s.Earliest)+" → "+database.FormatDate(*s.Latest)))
	}
	c := s.Coverage
	lines = append(lines, kv("Categorised", fmt.Sprintf("%d manual, %d ai, %d provider, %d none", c.Manual, c.AI, c.Provider, c.Uncategorized)))
	if _, err := fmt.Fprintln(w, titleStyle.Render("Summary")+"\n"+strings.Join(lines, "\n")); err != nil {
		return err
	}

	cats := newTable("Category", "Group", "Count", "Spent", "Share")
	for _, ct := range s.ByCategory {
		cats.Row(truncate(ct.Category, 32), ct.Group, itoa(ct.Count), Money(ct.Amount), share(ct.Amount, s.Spending))
	}
	if err := render(w, "By category", cats); err != nil {
		return err
	}

	months := newTable("Month", "Spending", "Income", "Net")
	for _, m := range s.Monthly {
		months.Row(m.Month, Money(m.Spending), Money(m.Income), Money(m.Income.Sub(m.Spending)))
	}
	return render(w, "Monthly", months)
}

// Categories renders the vocabulary one group per row.
func Categories(w io.Writer, v *category.Vocabulary) error {
	t := newTable("Group", "Labels")
	for _, g := range v.Groups() {
		t.Row(g, strings.Join(v.LabelsIn(g), ", "))
	}
	return render(w, "Categories", t)
}

// Money formats an amount as -$1,234.56.
func Money(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	s := d.StringFixed(2)
	whole, frac := s[:len(s)-3], s[len(s)-3:]
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + frac
}

// Amount colours money out red and money in green.
func Amount(d decimal.Decimal) string {
	switch {
	case d.IsPositive():
		return debitStyle.Render(Money(d))
	case d.IsNegative():
		return creditStyle.Render(Money(d))
	}
	return Money(d)
}

func share(part, total decimal.Decimal) string {
	if total.IsZero() {
		return "-"
	}
	return part.Div(total).Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

func kv(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + value
}

func errCount(n int) string {
	if n == 0 {
		return "0"
	}
	return warnStyle.Render(itoa(n))
}

func itoa(n int) string { return strconv.Itoa(n) }

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
