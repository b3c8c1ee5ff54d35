package testdata

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/provider"
)

var merchants = []struct {
	name, merchant, primary, detailed string
}{
	{"UBER EATS* SUSHI", "Uber Eats", "FOOD_AND_DRINK", "FOOD_AND_DRINK_RESTAURANT"},
	{"AMAZON.COM*1A2B3", "Amazon", "GENERAL_MERCHANDISE", "GENERAL_MERCHANDISE_ONLINE_MARKETPLACES"},
	{"WHOLE FOODS #102", "Whole Foods", "FOOD_AND_DRINK", "FOOD_AND_DRINK_GROCERIES"},
	{"SPOTIFY USA", "Spotify", "ENTERTAINMENT", "ENTERTAINMENT_MUSIC_AND_AUDIO"},
	{"STARBUCKS STORE 123", "Starbucks", "FOOD_AND_DRINK", "FOOD_AND_DRINK_COFFEE"},
	{"SHELL OIL 5712", "Shell", "TRANSPORTATION", "TRANSPORTATION_GAS"},
}

// Generator builds deterministic provider transactions for one account.
type Generator struct {
	rnd       *rand.Rand
	accountID string
	start     time.Time
	seq       int
}

// NewGenerator seeds a generator; equal seeds yield equal sequences.
func NewGenerator(seed int64, accountID string, start time.Time) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed)), accountID: accountID, start: start.UTC()}
}

// Transaction builds one record dated day days after the start.
func (g *Generator) Transaction(id, name, merchant, amount string, day int, pending bool) provider.Transaction {
	amt := decimal.RequireFromString(amount)
	usd := "USD"
	tx := provider.Transaction{
		TransactionID:   id,
		AccountID:       g.accountID,
		Amount:          &amt,
		ISOCurrencyCode: &usd,
		Date:            g.start.AddDate(0, 0, day).Format("2006-01-02"),
		Name:            name,
		Pending:         pending,
		PaymentChannel:  "in store",
	}
	if merchant != "" {
		m := merchant
		tx.MerchantName = &m
	}
	return tx
}

// Random builds n spending records with ids prefix-1..prefix-n spread over the
// ten days after the start. Roughly one in five is pending.
func (g *Generator) Random(prefix string, n int) []provider.Transaction {
	out := make([]provider.Transaction, 0, n)
	for i := 0; i < n; i++ {
		g.seq++
		m := merchants[g.rnd.Intn(len(merchants))]
		cents := int64(g.rnd.Intn(20000) + 500)
		tx := g.Transaction(fmt.Sprintf("%s-%d", prefix, g.seq), m.name, m.merchant,
			decimal.New(cents, -2).String(), g.rnd.Intn(10), g.rnd.Intn(10) < 2)
		tx.Category = []string{"Shops"}
		tx.PersonalFinanceCategory = &provider.PersonalFinanceCategory{
			Primary:         m.primary,
			Detailed:        m.detailed,
			ConfidenceLevel: "HIGH",
		}
		out = append(out, tx)
	}
	return out
}

// Account builds an upstream account with a current balance.
func Account(id, name, balance string) provider.Account {
	b := decimal.RequireFromString(balance)
	usd := "USD"
	sub := "checking"
	return provider.Account{
		AccountID: id,
		Name:      name,
		Type:      "depository",
		Subtype:   &sub,
		Balances:  provider.Balances{Current: &b, ISOCurrencyCode: &usd},
	}
}

// Removed lists ids as provider removals.
func Removed(ids ...string) []provider.RemovedTransaction {
	out := make([]provider.RemovedTransaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, provider.RemovedTransaction{TransactionID: id})
	}
	return out
}
