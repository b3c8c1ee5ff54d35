package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/service"
)

func TestMoney(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"0":         "$0.00",
		"4.5":       "$4.50",
		"-1234.567": "-$1,234.57",
		"1000000":   "$1,000,000.00",
		"999.99":    "$999.99",
	}
	for in, want := range cases {
		assert.Equal(t, want, Money(decimal.RequireFromString(in)), in)
	}
}

func TestTransactionsTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := Transactions(&buf, []repository.Transaction{
		{ID: "tx-1", AccountID: "acc-1", Date: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), Name: "STARBUCKS 123",
			MerchantName: "Starbucks", Amount: decimal.RequireFromString("5.25"), ManualCategory: "dining", AICategory: "coffee_shops"},
		{ID: "tx-2", AccountID: "acc-1", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Name: "ACME PAYROLL",
			Amount: decimal.RequireFromString("-2500"), Pending: true},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Transactions (2)")
	assert.Contains(t, out, "2024-05-02")
	assert.Contains(t, out, "$5.25")
	assert.Contains(t, out, "-$2,500.00")
	assert.Contains(t, out, "dining")
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "Uncategorized")
	assert.Contains(t, out, "(pending)")
}

func TestSyncSummaryTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := SyncSummary(&buf, service.SyncSummary{
		Outcomes: []service.SyncOutcome{
			{Institution: "chase", State: service.StateIdle, NewCount: 7, AccountsSynced: 2},
			{Institution: "amex", State: service.StateFailed, Errors: []string{"fetch accounts: boom"}},
		},
		Skipped: []string{"wells"},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "chase")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "SKIPPED")
	assert.Contains(t, out, "amex: fetch accounts: boom")
}

func TestSummaryAndHistory(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, Summary(&buf, service.Summary{
		Transactions: 3,
		Spending:     decimal.RequireFromString("150"),
		Income:       decimal.RequireFromString("1000"),
		Net:          decimal.RequireFromString("850"),
		ByCategory: []service.CategoryTotal{
			{Category: "groceries", Group: "food", Amount: decimal.RequireFromString("150"), Count: 2},
		},
		Monthly: []service.MonthTotal{{Month: "2024-05", Spending: decimal.RequireFromString("150"), Income: decimal.RequireFromString("1000")}},
	}))
	out := buf.String()
	assert.Contains(t, out, "$850.00")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "2024-05")

	buf.Reset()
	cursor := "c-1"
	require.NoError(t, Institutions(&buf, []repository.Institution{{Name: "chase", Cursor: &cursor}, {Name: "amex"}}))
	assert.Contains(t, buf.String(), "never")
	assert.Contains(t, buf.String(), "c-1")

	buf.Reset()
	require.NoError(t, SyncHistory(&buf, []repository.SyncRun{{Institution: "chase", State: "IDLE", FullSync: true, NewCount: 4, StartedAt: time.Now()}}))
	assert.Contains(t, buf.String(), "yes")
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("abc", 0))
}

func TestCategoriesTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	v := category.NewVocabulary(map[string][]string{"food": {"groceries", "coffee_shops"}})
	require.NoError(t, Categories(&buf, v))
	assert.Contains(t, buf.String(), "food")
	assert.Contains(t, buf.String(), "groceries, coffee_shops")
}
