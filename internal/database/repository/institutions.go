package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jask/moneysync/internal/database"
)

// ErrNoInstitution is returned when an institution name is required but empty.
var ErrNoInstitution = errors.New("institution name required")

// TokenSealer protects access tokens at rest.
type TokenSealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// InstitutionRepo handles linked institutions.
type InstitutionRepo struct {
	db     *sql.DB
	sealer TokenSealer
}

// NewInstitutionRepo returns a repo; sealer may be nil to store tokens as given.
func NewInstitutionRepo(db *sql.DB, sealer TokenSealer) *InstitutionRepo {
	return &InstitutionRepo{db: db, sealer: sealer}
}

// Upsert links an institution or replaces its access token. The cursor and
// last sync time are preserved.
func (r *InstitutionRepo) Upsert(ctx context.Context, name, accessToken string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNoInstitution
	}
	token, err := r.seal(accessToken)
	if err != nil {
		return err
	}
	now := database.Now()
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO institutions(name, access_token, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
	 access_token=excluded.access_token,
	 updated_at=excluded.updated_at;
	`, name, token, now, now)
	return err
}

// Restore inserts an institution with a known cursor and sync time, leaving an
// existing row untouched. It reports whether a row was inserted.
func (r *InstitutionRepo) Restore(ctx context.Context, in Institution) (bool, error) {
	if strings.TrimSpace(in.Name) == "" {
		return false, ErrNoInstitution
	}
	token, err := r.seal(in.AccessToken)
	if err != nil {
		return false, err
	}
	now := database.Now()
	res, err := r.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO institutions(name, access_token, cursor, last_sync_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`, strings.TrimSpace(in.Name), token, in.Cursor, in.LastSyncAt, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Get returns the institution with its token unsealed, or nil when unknown.
func (r *InstitutionRepo) Get(ctx context.Context, name string) (*Institution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT name, access_token, cursor, last_sync_at, created_at, updated_at FROM institutions WHERE name = ?`, name)
	in, err := r.scan(row, true)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &in, nil
}

// List returns every institution ordered by name. Access tokens are left
// empty; a token that cannot be opened only fails Get for that institution.
func (r *InstitutionRepo) List(ctx context.Context) ([]Institution, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, access_token, cursor, last_sync_at, created_at, updated_at FROM institutions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Institution
	for rows.Next() {
		in, err := r.scan(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// SaveSyncState records the cursor reached by a completed sync.
func (r *InstitutionRepo) SaveSyncState(ctx context.Context, name, cursor string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE institutions SET cursor = ?, last_sync_at = ?, updated_at = ? WHERE name = ?`,
		nullString(cursor), at.UTC().Truncate(time.Second), database.Now(), name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("save sync state: institution %q not found", name)
	}
	return nil
}

func (r *InstitutionRepo) scan(row scanner, open bool) (Institution, error) {
	var in Institution
	var cursor sql.NullString
	var last sql.NullTime
	if err := row.Scan(&in.Name, &in.AccessToken, &cursor, &last, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return Institution{}, err
	}
	if cursor.Valid && cursor.String != "" {
		in.Cursor = &cursor.String
	}
	if last.Valid {
		t := last.Time
		in.LastSyncAt = &t
	}
	if !open {
		in.AccessToken = ""
		return in, nil
	}
	if r.sealer != nil {
		plain, err := r.sealer.Open(in.AccessToken)
		if err != nil {
			return Institution{}, fmt.Errorf("open token for %s: %w", in.Name, err)
		}
		in.AccessToken = plain
	}
	return in, nil
}

func (r *InstitutionRepo) seal(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("access token required")
	}
	if r.sealer == nil {
		return token, nil
	}
	return r.sealer.Seal(token)
}
