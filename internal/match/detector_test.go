package match

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/database/repository"
)

type memSource struct {
	rows []repository.Transaction
}

func (m *memSource) Get(_ context.Context, id string) (*repository.Transaction, error) {
	for i := range m.rows {
		if m.rows[i].ID == id {
			t := m.rows[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (m *memSource) ListAccountWindow(_ context.Context, accountID string, from, to time.Time) ([]repository.Transaction, error) {
	var out []repository.Transaction
	for _, t := range m.rows {
		if t.AccountID == accountID && !t.Date.Before(from) && !t.Date.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func tx(id, account, date, name, amount string) repository.Transaction {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return repository.Transaction{ID: id, AccountID: account, Date: d, Name: name, Amount: decimal.RequireFromString(amount)}
}

func TestClassifyIDMatchIsUpdate(t *testing.T) {
	t.Parallel()
	pending := tx("T1", "acc", "2024-04-01", "Coffee", "4.50")
	pending.Pending = true
	src := &memSource{rows: []repository.Transaction{pending}}
	d := NewDetector(src, DefaultOptions())

	posted := tx("T1", "acc", "2024-04-02", "Coffee Shop", "4.75")
	dec, err := d.Classify(context.Background(), posted)
	require.NoError(t, err)
	assert.Equal(t, Update, dec.Kind)
	assert.Equal(t, "T1", dec.ExistingID)
	require.NotNil(t, dec.Existing)
	assert.True(t, dec.Existing.Pending)
}

func TestFuzzyGuardKeepsDistinctNames(t *testing.T) {
	t.Parallel()
	src := &memSource{rows: []repository.Transaction{tx("A", "acc", "2024-04-01", "Starbucks #123", "5.00")}}
	d := NewDetector(src, DefaultOptions())

	dec, err := d.Classify(context.Background(), tx("B", "acc", "2024-04-01", "Shell Gas Station", "5.00"))
	require.NoError(t, err)
	assert.Equal(t, New, dec.Kind)
}

func TestFuzzyCatchesReissuedTransaction(t *testing.T) {
	t.Parallel()
	src := &memSource{rows: []repository.Transaction{tx("A", "acc", "2024-04-01", "AMAZON.COM*1A2B3", "19.99")}}
	d := NewDetector(src, DefaultOptions())

	dec, err := d.Classify(context.Background(), tx("B", "acc", "2024-04-03", "Amazon", "19.99"))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, dec.Kind)
	assert.Equal(t, "A", dec.ExistingID)
	assert.Greater(t, dec.Similarity, 0.0)
	assert.Equal(t, "DUPLICATE", dec.Kind.String())
}

func TestFuzzyBoundaries(t *testing.T) {
	t.Parallel()
	d := NewDetector(nil, DefaultOptions())
	stored := tx("A", "acc", "2024-04-10", "Whole Foods", "50.00")
	stored.MerchantName = "Whole Foods Market"

	cases := []struct {
		name string
		cand repository.Transaction
		want Kind
	}{
		{"three days is inside", tx("B", "acc", "2024-04-13", "whole foods", "50.00"), Duplicate},
		{"four days is outside", tx("B", "acc", "2024-04-14", "whole foods", "50.00"), New},
		{"other account", tx("B", "acc-2", "2024-04-10", "Whole Foods", "50.00"), New},
		{"rounding noise", tx("B", "acc", "2024-04-10", "Whole Foods", "50.009"), Duplicate},
		{"one cent apart", tx("B", "acc", "2024-04-10", "Whole Foods", "50.01"), New},
		{"empty name never matches", tx("B", "acc", "2024-04-10", "", "50.00"), New},
		{"same id", tx("A", "acc", "2024-04-10", "Anything", "1.00"), Update},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := d.ClassifyAgainst(tc.cand, []repository.Transaction{stored})
			assert.Equal(t, tc.want, got.Kind)
		})
	}

	merchant := tx("C", "acc", "2024-04-10", "POS 4411", "50.00")
	merchant.MerchantName = "whole foods"
	assert.Equal(t, Duplicate, d.ClassifyAgainst(merchant, []repository.Transaction{stored}).Kind)
}

func TestToleranceIsConfigurable(t *testing.T) {
	t.Parallel()
	d := NewDetector(nil, Options{AmountTolerance: decimal.RequireFromString("1.00"), DayWindow: 7})
	stored := tx("A", "acc", "2024-04-01", "Uber Trip", "23.40")

	got := d.ClassifyAgainst(tx("B", "acc", "2024-04-07", "UBER", "24.10"), []repository.Transaction{stored})
	assert.Equal(t, Duplicate, got.Kind)
	assert.Equal(t, 7, d.Options().DayWindow)
}

func TestFuzzyPrefersClosestName(t *testing.T) {
	t.Parallel()
	loose := tx("A", "acc", "2024-04-03", "AMAZON", "20.00")
	near := tx("B", "acc", "2024-04-01", "AMAZON MKTPLACE PMTS", "20.00")
	src := &memSource{rows: []repository.Transaction{loose, near}}

	cand := tx("N", "acc", "2024-04-02", "AMAZON MKTPLACE", "20.00")
	dec, err := NewDetector(src, DefaultOptions()).Classify(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, dec.Kind)
	assert.Equal(t, "B", dec.ExistingID)
	assert.InDelta(t, 0.75, dec.Similarity, 0.001)

	opts := DefaultOptions()
	opts.MinSimilarity = 0.8
	dec, err = NewDetector(src, opts).Classify(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, New, dec.Kind)
}
