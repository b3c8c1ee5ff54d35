package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/database"
)

// ErrInvalidTransaction is returned when a row lacks its identity or account.
var ErrInvalidTransaction = errors.New("invalid transaction")

// deleteChunk keeps IN lists well under sqlite's variable limit.
const deleteChunk = 500

const transactionColumns = `t.transaction_id, t.account_id, COALESCE(a.institution, ''), t.date, t.authorized_date,
 t.name, t.merchant_name, t.original_description, t.amount, t.currency, t.pending, t.pending_transaction_id,
 t.payment_channel, t.transaction_type, t.location, t.website, t.check_number,
 t.plaid_category, t.ai_category, t.ai_reason, t.manual_category, t.notes, t.tags, t.created_at, t.updated_at`

const transactionFrom = ` FROM transactions t LEFT JOIN accounts a ON a.id = t.account_id`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TransactionRepo is the transaction store.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

// Create inserts txs in one database transaction, skipping ids that already
// exist or repeat within the batch, and creating stub accounts as needed. It
// returns the ids actually inserted. On any failure nothing is written and the
// returned slice is nil.
func (r *TransactionRepo) Create(ctx context.Context, txs []Transaction) ([]string, error) {
	if len(txs) == 0 {
		return []string{}, nil
	}
	created := []string{}
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		seen := make(map[string]struct{}, len(txs))
		for _, t := range txs {
			if t.ID == "" || t.AccountID == "" {
				return fmt.Errorf("%w: id=%q account=%q", ErrInvalidTransaction, t.ID, t.AccountID)
			}
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}

			found, err := exists(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if found {
				continue
			}
			if err := ensureAccount(ctx, tx, t.AccountID); err != nil {
				return fmt.Errorf("ensure account %s: %w", t.AccountID, err)
			}
			if err := insertTransaction(ctx, tx, t); err != nil {
				return fmt.Errorf("insert %s: %w", t.ID, err)
			}
			created = append(created, t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertTransaction(ctx context.Context, ex execer, t Transaction) error {
	now := database.Now()
	_, err := ex.ExecContext(ctx, `
	INSERT INTO transactions(
	 transaction_id, account_id, date, authorized_date, name, merchant_name, original_description,
	 amount, currency, pending, pending_transaction_id, payment_channel, transaction_type, location,
	 website, check_number, plaid_category, ai_category, ai_reason, manual_category, notes, tags,
	 created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		t.ID, t.AccountID, database.FormatDate(t.Date), nullDate(t.AuthorizedDate), t.Name,
		nullString(t.MerchantName), nullString(t.OriginalDescription), t.Amount.InexactFloat64(),
		nullString(t.Currency), t.Pending, nullString(t.PendingTransactionID), nullString(t.PaymentChannel),
		nullString(t.TransactionType), nullString(t.Location), nullString(t.Website), nullString(t.CheckNumber),
		nullString(t.ProviderCategory), nullString(t.AICategory), nullString(t.AIReason),
		nullString(t.ManualCategory), nullString(t.Notes), nullString(joinTags(t.Tags)), now, now)
	return err
}

// UpdateByID applies u to one row. It reports false for an unknown id or an
// empty update.
func (r *TransactionRepo) UpdateByID(ctx context.Context, id string, u TransactionUpdate) (bool, error) {
	return applyUpdate(ctx, r.db, id, u)
}

// BulkUpdate applies every update in one database transaction and returns how
// many rows changed. Any failure rolls back all of them and returns 0.
func (r *TransactionRepo) BulkUpdate(ctx context.Context, updates map[string]TransactionUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := 0
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			ok, err := applyUpdate(ctx, tx, id, updates[id])
			if err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
			if ok {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func applyUpdate(ctx context.Context, ex execer, id string, u TransactionUpdate) (bool, error) {
	sets, args := updateClauses(u)
	if len(sets) == 0 {
		return false, nil
	}
	if u.AccountID != nil {
		if *u.AccountID == "" {
			return false, fmt.Errorf("%w: empty account for %s", ErrInvalidTransaction, id)
		}
		// an unknown id must not leave a placeholder account behind
		ok, err := exists(ctx, ex, id)
		if err != nil || !ok {
			return false, err
		}
		if err := ensureAccount(ctx, ex, *u.AccountID); err != nil {
			return false, err
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, database.Now(), id)
	res, err := ex.ExecContext(ctx, "UPDATE transactions SET "+strings.Join(sets, ", ")+" WHERE transaction_id = ?", args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func updateClauses(u TransactionUpdate) ([]string, []interface{}) {
	var sets []string
	var args []interface{}
	str := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, nullString(*v))
		}
	}
	if u.AccountID != nil {
		sets = append(sets, "account_id = ?")
		args = append(args, *u.AccountID)
	}
	if u.Date != nil {
		sets = append(sets, "date = ?")
		args = append(args, database.FormatDate(*u.Date))
	}
	if u.AuthorizedDate != nil {
		sets = append(sets, "authorized_date = ?")
		args = append(args, database.FormatDate(*u.AuthorizedDate))
	}
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	str("merchant_name", u.MerchantName)
	str("original_description", u.OriginalDescription)
	if u.Amount != nil {
		sets = append(sets, "amount = ?")
		args = append(args, u.Amount.InexactFloat64())
	}
	str("currency", u.Currency)
	if u.Pending != nil {
		sets = append(sets, "pending = ?")
		args = append(args, *u.Pending)
	}
	str("pending_transaction_id", u.PendingTransactionID)
	str("payment_channel", u.PaymentChannel)
	str("transaction_type", u.TransactionType)
	str("location", u.Location)
	str("website", u.Website)
	str("check_number", u.CheckNumber)
	str("plaid_category", u.ProviderCategory)
	str("ai_category", u.AICategory)
	str("ai_reason", u.AIReason)
	str("manual_category", u.ManualCategory)
	str("notes", u.Notes)
	if u.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, nullString(joinTags(*u.Tags)))
	}
	return sets, args
}

// DeleteByIDs removes the given rows and returns how many existed. Unknown
// ids are ignored.
func (r *TransactionRepo) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	total := 0
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += deleteChunk {
			end := start + deleteChunk
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]
			args := make([]interface{}, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			res, err := tx.ExecContext(ctx, "DELETE FROM transactions WHERE transaction_id IN ("+placeholders(len(chunk))+")", args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ReadWithFilters lists rows matching every set filter, most recent first.
// Ties on date are broken by id so pagination is stable.
func (r *TransactionRepo) ReadWithFilters(ctx context.Context, f Filters) ([]Transaction, error) {
	var where []string
	var args []interface{}

	if f.DateStart != nil {
		where = append(where, "t.date >= ?")
		args = append(args, database.FormatDate(*f.DateStart))
	}
	if f.DateEnd != nil {
		where = append(where, "t.date <= ?")
		args = append(args, database.FormatDate(*f.DateEnd))
	}
	if len(f.AccountIDs) > 0 {
		where = append(where, "t.account_id IN ("+placeholders(len(f.AccountIDs))+")")
		for _, id := range f.AccountIDs {
			args = append(args, id)
		}
	}
	if len(f.Institutions) > 0 {
		where = append(where, "a.institution IN ("+placeholders(len(f.Institutions))+")")
		for _, name := range f.Institutions {
			args = append(args, name)
		}
	}
	if f.AmountMin != nil {
		where = append(where, "t.amount >= ?")
		args = append(args, f.AmountMin.InexactFloat64())
	}
	if f.AmountMax != nil {
		where = append(where, "t.amount <= ?")
		args = append(args, f.AmountMax.InexactFloat64())
	}
	if f.PendingOnly {
		where = append(where, "t.pending = 1")
	}
	if len(f.Categories) > 0 {
		var clauses []string
		for _, c := range f.Categories {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			clauses = append(clauses, "(t.plaid_category LIKE ? ESCAPE '\\' OR t.ai_category = ? COLLATE NOCASE OR t.manual_category = ? COLLATE NOCASE)")
			args = append(args, "%"+escapeLike(c)+"%", c, c)
		}
		if len(clauses) > 0 {
			where = append(where, "("+strings.Join(clauses, " OR ")+")")
		}
	}
	if f.UncategorizedOnly {
		where = append(where, "TRIM(COALESCE(t.plaid_category, '')) = '' AND TRIM(COALESCE(t.ai_category, '')) = '' AND TRIM(COALESCE(t.manual_category, '')) = ''")
	}
	if f.Search != "" {
		where = append(where, "(t.name LIKE ? ESCAPE '\\' OR t.merchant_name LIKE ? ESCAPE '\\' OR t.original_description LIKE ? ESCAPE '\\')")
		s := "%" + escapeLike(f.Search) + "%"
		args = append(args, s, s, s)
	}

	query := "SELECT " + transactionColumns + transactionFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.date DESC, t.transaction_id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}
	return r.query(ctx, query, args...)
}

// ListAccountWindow returns rows of one account dated within [from, to].
func (r *TransactionRepo) ListAccountWindow(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	return r.query(ctx, "SELECT "+transactionColumns+transactionFrom+
		" WHERE t.account_id = ? AND t.date >= ? AND t.date <= ? ORDER BY t.date DESC, t.transaction_id ASC",
		accountID, database.FormatDate(from), database.FormatDate(to))
}

// ListUnclassified returns rows with neither an ai nor a manual category,
// oldest first so repeated runs make progress.
func (r *TransactionRepo) ListUnclassified(ctx context.Context, limit int) ([]Transaction, error) {
	query := "SELECT " + transactionColumns + transactionFrom +
		" WHERE TRIM(COALESCE(t.ai_category, '')) = '' AND TRIM(COALESCE(t.manual_category, '')) = ''" +
		" ORDER BY t.date ASC, t.transaction_id ASC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// ListByIDs returns the rows for ids that exist, most recent first.
func (r *TransactionRepo) ListByIDs(ctx context.Context, ids []string) ([]Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.query(ctx, "SELECT "+transactionColumns+transactionFrom+
		" WHERE t.transaction_id IN ("+placeholders(len(ids))+") ORDER BY t.date DESC, t.transaction_id ASC", args...)
}

// StalePending returns ids of pending rows dated before cutoff.
func (r *TransactionRepo) StalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT transaction_id FROM transactions WHERE pending = 1 AND date < ? ORDER BY date ASC`, database.FormatDate(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) query(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns the row for id, or nil when it does not exist.
func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+transactionColumns+transactionFrom+" WHERE t.transaction_id = ?", id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes LIKE wildcards so s matches literally under ESCAPE '\'.
func escapeLike(s string) string { return likeEscaper.Replace(s) }

// Exists reports whether a row with id is stored.
func (r *TransactionRepo) Exists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.db, id)
}

func exists(ctx context.Context, ex execer, id string) (bool, error) {
	var one int
	err := ex.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE transaction_id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountAll returns the number of stored rows.
func (r *TransactionRepo) CountAll(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// DateRange returns the earliest and latest transaction dates. ok is false
// when the store is empty.
func (r *TransactionRepo) DateRange(ctx context.Context) (earliest, latest time.Time, ok bool, err error) {
	var lo, hi sql.NullString
	if err = r.db.QueryRowContext(ctx, `SELECT MIN(date), MAX(date) FROM transactions`).Scan(&lo, &hi); err != nil {
		return
	}
	if !lo.Valid || !hi.Valid {
		return
	}
	if earliest, err = parseStoredDate(lo.String); err != nil {
		return
	}
	if latest, err = parseStoredDate(hi.String); err != nil {
		return
	}
	ok = true
	return
}

// SetAICategory stores the classifier's label and reasoning.
func (r *TransactionRepo) SetAICategory(ctx context.Context, id, label, reason string) (bool, error) {
	return r.UpdateByID(ctx, id, TransactionUpdate{AICategory: &label, AIReason: &reason})
}

// SetManualCategory stores a user override.
func (r *TransactionRepo) SetManualCategory(ctx context.Context, id, label string) (bool, error) {
	label = strings.TrimSpace(label)
	return r.UpdateByID(ctx, id, TransactionUpdate{ManualCategory: &label})
}

// ClearManualCategory removes a user override.
func (r *TransactionRepo) ClearManualCategory(ctx context.Context, id string) (bool, error) {
	empty := ""
	return r.UpdateByID(ctx, id, TransactionUpdate{ManualCategory: &empty})
}

// CategoryCoverage counts rows by the source of their effective category.
type CategoryCoverage struct {
	Total         int
	Manual        int
	AI            int
	Provider      int
	Uncategorized int
}

func (r *TransactionRepo) CategoryCoverage(ctx context.Context) (CategoryCoverage, error) {
	var c CategoryCoverage
	rows, err := r.db.QueryContext(ctx, `SELECT manual_category, ai_category, plaid_category FROM transactions`)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var manual, ai, provider sql.NullString
		if err := rows.Scan(&manual, &ai, &provider); err != nil {
			return c, err
		}
		c.Total++
		switch _, src := category.ResolveSource(manual.String, ai.String, provider.String); src {
		case category.SourceManual:
			c.Manual++
		case category.SourceAI:
			c.AI++
		case category.SourceProvider:
			c.Provider++
		default:
			c.Uncategorized++
		}
	}
	return c, rows.Err()
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var authorized sql.NullTime
	var merchant, original, currency, pendingID, channel, txType, location, website, check sql.NullString
	var provider, ai, reason, manual, notes, tags sql.NullString
	var amount decimal.Decimal
	if err := row.Scan(&t.ID, &t.AccountID, &t.Institution, &t.Date, &authorized, &t.Name, &merchant, &original,
		&amount, &currency, &t.Pending, &pendingID, &channel, &txType, &location, &website, &check,
		&provider, &ai, &reason, &manual, &notes, &tags, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.Amount = amount.Round(4)
	if authorized.Valid {
		at := authorized.Time
		t.AuthorizedDate = &at
	}
	t.MerchantName = merchant.String
	t.OriginalDescription = original.String
	t.Currency = currency.String
	t.PendingTransactionID = pendingID.String
	t.PaymentChannel = channel.String
	t.TransactionType = txType.String
	t.Location = location.String
	t.Website = website.String
	t.CheckNumber = check.String
	t.ProviderCategory = provider.String
	t.AICategory = ai.String
	t.AIReason = reason.String
	t.ManualCategory = manual.String
	t.Notes = notes.String
	t.Tags = splitTags(tags.String)
	return t, nil
}

func parseStoredDate(s string) (time.Time, error) {
	if len(s) >= len(database.DateLayout) {
		s = s[:len(database.DateLayout)]
	}
	return database.ParseDate(s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func nullDate(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return database.FormatDate(*t)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
