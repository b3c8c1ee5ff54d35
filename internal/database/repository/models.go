package repository

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/category"
)

// Institution represents a linked institution row.
type Institution struct {
	Name        string
	AccessToken string
	Cursor      *string
	LastSyncAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Account represents an account row.
type Account struct {
	ID               string
	Institution      *string
	Name             string
	OfficialName     string
	Type             string
	Subtype          string
	Mask             string
	BalanceCurrent   *decimal.Decimal
	BalanceAvailable *decimal.Decimal
	BalanceLimit     *decimal.Decimal
	Currency         string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transaction represents a transaction row. Amount is positive for money out
// and negative for money in.
type Transaction struct {
	ID                   string
	AccountID            string
	Institution          string // from the owning account; read only
	Date                 time.Time
	AuthorizedDate       *time.Time
	Name                 string
	MerchantName         string
	OriginalDescription  string
	Amount               decimal.Decimal
	Currency             string
	Pending              bool
	PendingTransactionID string
	PaymentChannel       string
	TransactionType      string
	Location             string
	Website              string
	CheckNumber          string
	ProviderCategory     string
	AICategory           string
	AIReason             string
	ManualCategory       string
	Notes                string
	Tags                 []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EffectiveCategory returns manual, else ai, else provider, else Uncategorized.
func (t Transaction) EffectiveCategory() string {
	return category.Resolve(t.ManualCategory, t.AICategory, t.ProviderCategory)
}

// CategorySource names the field EffectiveCategory came from.
func (t Transaction) CategorySource() category.Source {
	_, src := category.ResolveSource(t.ManualCategory, t.AICategory, t.ProviderCategory)
	return src
}

// IsUncategorized reports whether no category source is set.
func (t Transaction) IsUncategorized() bool {
	return t.CategorySource() == category.SourceNone
}

// TransactionUpdate carries the fields to change; nil fields are left alone.
type TransactionUpdate struct {
	AccountID            *string
	Date                 *time.Time
	AuthorizedDate       *time.Time
	Name                 *string
	MerchantName         *string
	OriginalDescription  *string
	Amount               *decimal.Decimal
	Currency             *string
	Pending              *bool
	PendingTransactionID *string
	PaymentChannel       *string
	TransactionType      *string
	Location             *string
	Website              *string
	CheckNumber          *string
	ProviderCategory     *string
	AICategory           *string
	AIReason             *string
	ManualCategory       *string
	Notes                *string
	Tags                 *[]string
}

// SyncFields returns an update holding every field the provider owns.
func SyncFields(t Transaction) TransactionUpdate {
	u := TransactionUpdate{
		AccountID:            &t.AccountID,
		Date:                 &t.Date,
		Name:                 &t.Name,
		MerchantName:         &t.MerchantName,
		OriginalDescription:  &t.OriginalDescription,
		Amount:               &t.Amount,
		Currency:             &t.Currency,
		Pending:              &t.Pending,
		PendingTransactionID: &t.PendingTransactionID,
		PaymentChannel:       &t.PaymentChannel,
		TransactionType:      &t.TransactionType,
		Location:             &t.Location,
		Website:              &t.Website,
		CheckNumber:          &t.CheckNumber,
		ProviderCategory:     &t.ProviderCategory,
	}
	if t.AuthorizedDate != nil {
		u.AuthorizedDate = t.AuthorizedDate
	}
	return u
}

// Filters narrows ReadWithFilters. Zero values mean no constraint; all set
// constraints must hold.
type Filters struct {
	DateStart         *time.Time
	DateEnd           *time.Time
	AccountIDs        []string
	Institutions      []string
	AmountMin         *decimal.Decimal
	AmountMax         *decimal.Decimal
	PendingOnly       bool
	Categories        []string
	UncategorizedOnly bool
	Search            string
	Limit             int
	Offset            int
}

// SyncRun is one audited institution sync.
type SyncRun struct {
	ID             string
	Institution    string
	StartedAt      time.Time
	FinishedAt     time.Time
	State          string
	FullSync       bool
	AccountsSynced int
	Transactions   int
	NewCount       int
	UpdatedCount   int
	DuplicateCount int
	RemovedCount   int
	Errors         []string
	CursorBefore   *string
	CursorAfter    *string
}

func joinTags(tags []string) string {
	var clean []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
