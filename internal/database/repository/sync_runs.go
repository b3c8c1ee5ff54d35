package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

// SyncRunRepo keeps the history of institution syncs.
type SyncRunRepo struct{ db *sql.DB }

func NewSyncRunRepo(db *sql.DB) *SyncRunRepo { return &SyncRunRepo{db: db} }

// Record stores run, assigning an id when it has none.
func (r *SyncRunRepo) Record(ctx context.Context, run SyncRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO sync_runs(id, institution, started_at, finished_at, state, full_sync, accounts_synced, transactions,
	 new_count, updated_count, duplicate_count, removed_count, errors, cursor_before, cursor_after)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Institution, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.State, run.FullSync, run.AccountsSynced,
		run.Transactions, run.NewCount, run.UpdatedCount, run.DuplicateCount, run.RemovedCount, string(payload),
		run.CursorBefore, run.CursorAfter)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// Recent returns the latest runs, newest first. An empty institution means all.
func (r *SyncRunRepo) Recent(ctx context.Context, institution string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, institution, started_at, finished_at, state, full_sync, accounts_synced, transactions,
	 new_count, updated_count, duplicate_count, removed_count, errors, cursor_before, cursor_after FROM sync_runs`
	var args []interface{}
	if institution != "" {
		query += ` WHERE institution = ?`
		args = append(args, institution)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SyncRun
	for rows.Next() {
		var run SyncRun
		var errs string
		var before, after sql.NullString
		if err := rows.Scan(&run.ID, &run.Institution, &run.StartedAt, &run.FinishedAt, &run.State, &run.FullSync,
			&run.AccountsSynced, &run.Transactions, &run.NewCount, &run.UpdatedCount, &run.DuplicateCount,
			&run.RemovedCount, &errs, &before, &after); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(errs), &run.Errors); err != nil {
			return nil, err
		}
		if before.Valid {
			run.CursorBefore = &before.String
		}
		if after.Valid {
			run.CursorAfter = &after.String
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
