package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/database"
)

// ErrNoAccount is returned when an account id is required but empty.
var ErrNoAccount = errors.New("account id required")

const accountColumns = `id, institution, name, official_name, type, subtype, mask,
 balance_current, balance_available, balance_limit, currency, active, created_at, updated_at`

// AccountRepo handles accounts.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Upsert stores account metadata and overwrites balances. An upserted account
// is always active.
func (r *AccountRepo) Upsert(ctx context.Context, a Account) error {
	if a.ID == "" {
		return ErrNoAccount
	}
	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO accounts(id, institution, name, official_name, type, subtype, mask,
	 balance_current, balance_available, balance_limit, currency, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 institution=COALESCE(excluded.institution, accounts.institution),
	 name=excluded.name,
	 official_name=excluded.official_name,
	 type=excluded.type,
	 subtype=excluded.subtype,
	 mask=excluded.mask,
	 balance_current=excluded.balance_current,
	 balance_available=excluded.balance_available,
	 balance_limit=excluded.balance_limit,
	 currency=excluded.currency,
	 active=1,
	 updated_at=excluded.updated_at;
	`, a.ID, a.Institution, a.Name, nullString(a.OfficialName), nullString(a.Type), nullString(a.Subtype),
		nullString(a.Mask), nullDecimal(a.BalanceCurrent), nullDecimal(a.BalanceAvailable),
		nullDecimal(a.BalanceLimit), nullString(a.Currency), now, now)
	return err
}

// ensureAccount creates a stub row so a transaction can reference accountID.
func ensureAccount(ctx context.Context, ex execer, accountID string) error {
	if accountID == "" {
		return ErrNoAccount
	}
	now := database.Now()
	_, err := ex.ExecContext(ctx, `INSERT OR IGNORE INTO accounts(id, name, active, created_at, updated_at) VALUES (?, '', 1, ?, ?)`,
		accountID, now, now)
	return err
}

// Get returns the account, or nil when it does not exist.
func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// List returns accounts ordered by institution and name.
func (r *AccountRepo) List(ctx context.Context, includeInactive bool) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY COALESCE(institution, ''), name, id`
	return r.list(ctx, query)
}

// ByInstitution returns the active accounts of one institution.
func (r *AccountRepo) ByInstitution(ctx context.Context, institution string) ([]Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE institution = ? AND active = 1 ORDER BY name, id`, institution)
}

// Deactivate soft-deletes an account; its transactions are kept.
func (r *AccountRepo) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET active = 0, updated_at = ? WHERE id = ? AND active = 1`, database.Now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *AccountRepo) list(ctx context.Context, query string, args ...interface{}) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var institution, official, typ, subtype, mask, currency sql.NullString
	var current, available, limit decimal.NullDecimal
	if err := row.Scan(&a.ID, &institution, &a.Name, &official, &typ, &subtype, &mask,
		&current, &available, &limit, &currency, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	if institution.Valid {
		a.Institution = &institution.String
	}
	a.OfficialName = official.String
	a.Type = typ.String
	a.Subtype = subtype.String
	a.Mask = mask.String
	a.Currency = currency.String
	if current.Valid {
		a.BalanceCurrent = &current.Decimal
	}
	if available.Valid {
		a.BalanceAvailable = &available.Decimal
	}
	if limit.Valid {
		a.BalanceLimit = &limit.Decimal
	}
	return a, nil
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.InexactFloat64()
}
