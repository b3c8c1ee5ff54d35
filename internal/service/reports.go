package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/database/repository"
)

// ReportService computes spending statistics over stored transactions.
type ReportService struct {
	Transactions *repository.TransactionRepo
	Accounts     *repository.AccountRepo
	Vocabulary   *category.Vocabulary
}

// SummaryOptions narrows the transactions a summary covers.
type SummaryOptions struct {
	DateStart    *time.Time
	DateEnd      *time.Time
	Institutions []string
}

// CategoryTotal is spending attributed to one effective category.
type CategoryTotal struct {
	Category string
	Group    string
	Amount   decimal.Decimal
	Count    int
}

// MonthTotal is the money flow of one calendar month.
type MonthTotal struct {
	Month    string // YYYY-MM
	Spending decimal.Decimal
	Income   decimal.Decimal
}

// Summary holds the aggregate figures. Spending sums positive amounts and
// Income the magnitude of negative ones.
type Summary struct {
	Transactions int
	Pending      int
	Accounts     int
	Spending     decimal.Decimal
	Income       decimal.Decimal
	Net          decimal.Decimal
	ByCategory   []CategoryTotal
	Monthly      []MonthTotal
	Earliest     *time.Time
	Latest       *time.Time
	Coverage     repository.CategoryCoverage
}

// Summary aggregates the transactions matching opts.
func (s *ReportService) Summary(ctx context.Context, opts SummaryOptions) (Summary, error) {
	vocab := s.Vocabulary
	if vocab == nil {
		vocab = category.DefaultVocabulary()
	}
	txs, err := s.Transactions.ReadWithFilters(ctx, repository.Filters{
		DateStart:    opts.DateStart,
		DateEnd:      opts.DateEnd,
		Institutions: opts.Institutions,
	})
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Transactions: len(txs)}
	byCat := map[string]*CategoryTotal{}
	byMonth := map[string]*MonthTotal{}
	for _, t := range txs {
		if t.Pending {
			sum.Pending++
		}
		if sum.Earliest == nil || t.Date.Before(*sum.Earliest) {
			d := t.Date
			sum.Earliest = &d
		}
		if sum.Latest == nil || t.Date.After(*sum.Latest) {
			d := t.Date
			sum.Latest = &d
		}

		key := t.Date.Format("2006-01")
		m, ok := byMonth[key]
		if !ok {
			m = &MonthTotal{Month: key}
			byMonth[key] = m
		}
		switch {
		case t.Amount.IsPositive():
			sum.Spending = sum.Spending.Add(t.Amount)
			m.Spending = m.Spending.Add(t.Amount)

			name := t.EffectiveCategory()
			if t.CategorySource() == category.SourceProvider {
				if pc, err := category.ParseProviderCategory(t.ProviderCategory); err == nil && pc.Primary != "" {
					name = pc.Primary
				}
			}
			c, ok := byCat[name]
			if !ok {
				c = &CategoryTotal{Category: name, Group: vocab.Group(name)}
				byCat[name] = c
			}
			c.Amount = c.Amount.Add(t.Amount)
			c.Count++
		case t.Amount.IsNegative():
			sum.Income = sum.Income.Add(t.Amount.Neg())
			m.Income = m.Income.Add(t.Amount.Neg())
		}
	}
	sum.Net = sum.Income.Sub(sum.Spending)

	for _, c := range byCat {
		sum.ByCategory = append(sum.ByCategory, *c)
	}
	sort.Slice(sum.ByCategory, func(i, j int) bool {
		a, b := sum.ByCategory[i], sum.ByCategory[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Category < b.Category
	})
	for _, m := range byMonth {
		sum.Monthly = append(sum.Monthly, *m)
	}
	sort.Slice(sum.Monthly, func(i, j int) bool { return sum.Monthly[i].Month < sum.Monthly[j].Month })

	if sum.Coverage, err = s.Transactions.CategoryCoverage(ctx); err != nil {
		return Summary{}, err
	}
	if s.Accounts != nil {
		accts, err := s.Accounts.List(ctx, false)
		if err != nil {
			return Summary{}, err
		}
		sum.Accounts = len(accts)
	}
	return sum, nil
}
