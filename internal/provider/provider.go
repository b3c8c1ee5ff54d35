// Package provider talks to the upstream financial-data service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// Provider is the upstream incremental-sync interface.
type Provider interface {
	Accounts(ctx context.Context, accessToken string) ([]Account, error)
	SyncTransactions(ctx context.Context, accessToken, cursor string) (Page, error)
}

// Page is one response of the incremental sync call.
type Page struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

// RemovedTransaction names a transaction the provider deleted.
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id,omitempty"`
}

// Transaction mirrors the provider's transaction object. Pointer fields are
// nullable on the wire.
type Transaction struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  *decimal.Decimal         `json:"amount"`
	ISOCurrencyCode         *string                  `json:"iso_currency_code"`
	UnofficialCurrencyCode  *string                  `json:"unofficial_currency_code"`
	Date                    string                   `json:"date"`
	AuthorizedDate          *string                  `json:"authorized_date"`
	Name                    string                   `json:"name"`
	MerchantName            *string                  `json:"merchant_name"`
	OriginalDescription     *string                  `json:"original_description"`
	Pending                 bool                     `json:"pending"`
	PendingTransactionID    *string                  `json:"pending_transaction_id"`
	Category                []string                 `json:"category"`
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category"`
	PaymentChannel          string                   `json:"payment_channel"`
	TransactionType         *string                  `json:"transaction_type"`
	Website                 *string                  `json:"website"`
	CheckNumber             *string                  `json:"check_number"`
	Location                *Location                `json:"location"`
}

// PersonalFinanceCategory is the provider's current taxonomy.
type PersonalFinanceCategory struct {
	Primary         string `json:"primary"`
	Detailed        string `json:"detailed"`
	ConfidenceLevel string `json:"confidence_level"`
}

// Location is the merchant location, every field optional.
type Location struct {
	Address     *string  `json:"address"`
	City        *string  `json:"city"`
	Region      *string  `json:"region"`
	PostalCode  *string  `json:"postal_code"`
	Country     *string  `json:"country"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	StoreNumber *string  `json:"store_number"`
}

// Account mirrors the provider's account object.
type Account struct {
	AccountID    string   `json:"account_id"`
	Name         string   `json:"name"`
	OfficialName *string  `json:"official_name"`
	Type         string   `json:"type"`
	Subtype      *string  `json:"subtype"`
	Mask         *string  `json:"mask"`
	Balances     Balances `json:"balances"`
}

// Balances are the account's balances at fetch time.
type Balances struct {
	Current         *decimal.Decimal `json:"current"`
	Available       *decimal.Decimal `json:"available"`
	Limit           *decimal.Decimal `json:"limit"`
	ISOCurrencyCode *string          `json:"iso_currency_code"`
}

// ErrMutationDuringPagination signals that the upstream data changed while
// pages were being fetched; paging must restart from the original cursor.
var ErrMutationDuringPagination = errors.New("transactions changed during pagination")

const codeMutationDuringPagination = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"

// Error is a failed upstream call.
type Error struct {
	Status         int    `json:"-"`
	Type           string `json:"error_type"`
	Code           string `json:"error_code"`
	Message        string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("plaid: %s %s: %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("plaid: http %d: %s", e.Status, msg)
}

// Is lets errors.Is match ErrMutationDuringPagination.
func (e *Error) Is(target error) bool {
	return target == ErrMutationDuringPagination && e.Code == codeMutationDuringPagination
}

// Transient reports whether retrying the same request may succeed.
func (e *Error) Transient() bool {
	if e.Status == http.StatusTooManyRequests || e.Status >= 500 {
		return true
	}
	switch e.Type {
	case "RATE_LIMIT_EXCEEDED", "API_ERROR", "INSTITUTION_ERROR":
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
