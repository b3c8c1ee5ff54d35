package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/provider"
)

const defaultCurrency = "USD"

// ErrMalformedItem marks a provider record that cannot be stored.
var ErrMalformedItem = errors.New("malformed transaction")

// normalize converts a provider record to a store row. Category sub-fields
// collapse into the provider category encoding.
func normalize(in provider.Transaction) (repository.Transaction, error) {
	id := strings.TrimSpace(in.TransactionID)
	if id == "" {
		return repository.Transaction{}, fmt.Errorf("%w: missing transaction_id", ErrMalformedItem)
	}
	if strings.TrimSpace(in.AccountID) == "" {
		return repository.Transaction{}, fmt.Errorf("%w: %s: missing account_id", ErrMalformedItem, id)
	}
	if in.Amount == nil {
		return repository.Transaction{}, fmt.Errorf("%w: %s: missing amount", ErrMalformedItem, id)
	}
	date, err := database.ParseDate(in.Date)
	if err != nil {
		return repository.Transaction{}, fmt.Errorf("%w: %s: date %q", ErrMalformedItem, id, in.Date)
	}

	out := repository.Transaction{
		ID:                   id,
		AccountID:            strings.TrimSpace(in.AccountID),
		Date:                 date,
		Name:                 strings.TrimSpace(in.Name),
		MerchantName:         deref(in.MerchantName),
		OriginalDescription:  deref(in.OriginalDescription),
		Amount:               *in.Amount,
		Currency:             currency(in),
		Pending:              in.Pending,
		PendingTransactionID: deref(in.PendingTransactionID),
		PaymentChannel:       strings.TrimSpace(in.PaymentChannel),
		TransactionType:      deref(in.TransactionType),
		Location:             formatLocation(in.Location),
		Website:              deref(in.Website),
		CheckNumber:          deref(in.CheckNumber),
		ProviderCategory:     providerCategory(in).String(),
	}
	if in.AuthorizedDate != nil && strings.TrimSpace(*in.AuthorizedDate) != "" {
		ad, err := database.ParseDate(*in.AuthorizedDate)
		if err != nil {
			return repository.Transaction{}, fmt.Errorf("%w: %s: authorized_date %q", ErrMalformedItem, id, *in.AuthorizedDate)
		}
		out.AuthorizedDate = &ad
	}
	return out, nil
}

func providerCategory(in provider.Transaction) category.ProviderCategory {
	var pc category.ProviderCategory
	if len(in.Category) > 0 {
		pc.Legacy = strings.TrimSpace(in.Category[0])
		pc.LegacyDetailed = strings.Join(in.Category, " > ")
	}
	if pfc := in.PersonalFinanceCategory; pfc != nil {
		pc.Primary = strings.TrimSpace(pfc.Primary)
		pc.Detailed = strings.TrimSpace(pfc.Detailed)
		pc.Confidence = strings.TrimSpace(pfc.ConfidenceLevel)
	}
	return pc
}

func currency(in provider.Transaction) string {
	if c := deref(in.ISOCurrencyCode); c != "" {
		return c
	}
	if c := deref(in.UnofficialCurrencyCode); c != "" {
		return c
	}
	return defaultCurrency
}

func formatLocation(l *provider.Location) string {
	if l == nil {
		return ""
	}
	var parts []string
	for _, p := range []*string{l.Address, l.City, l.Region, l.PostalCode, l.Country} {
		if v := deref(p); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func normalizeAccount(institution string, in provider.Account) repository.Account {
	a := repository.Account{
		ID:               strings.TrimSpace(in.AccountID),
		Institution:      &institution,
		Name:             strings.TrimSpace(in.Name),
		OfficialName:     deref(in.OfficialName),
		Type:             strings.TrimSpace(in.Type),
		Subtype:          deref(in.Subtype),
		Mask:             deref(in.Mask),
		BalanceCurrent:   in.Balances.Current,
		BalanceAvailable: in.Balances.Available,
		BalanceLimit:     in.Balances.Limit,
		Currency:         deref(in.Balances.ISOCurrencyCode),
		Active:           true,
	}
	if a.Currency == "" {
		a.Currency = defaultCurrency
	}
	return a
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func daysAgo(now time.Time, days int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}
