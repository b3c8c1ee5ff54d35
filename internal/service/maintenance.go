package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Log          zerolog.Logger
	Now          func() time.Time
}

// RemoveStalePending deletes pending transactions dated more than olderThan
// days ago; the provider never settled them. It returns the removed count.
func (s *MaintenanceService) RemoveStalePending(ctx context.Context, olderThan int) (int, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("maintenance: negative age %d", olderThan)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := daysAgo(now(), olderThan)
	ids, err := s.Transactions.StalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale pending: %w", err)
	}
	n, err := s.Transactions.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete stale pending: %w", err)
	}
	s.Log.Info().Int("removed", n).Str("before", database.FormatDate(cutoff)).Msg("stale pending removed")
	return n, nil
}

// Optimize refreshes planner statistics and compacts the file.
func (s *MaintenanceService) Optimize(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	for _, stmt := range []string{"ANALYZE", "VACUUM"} {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// Reset wipes synced data but keeps institution links. Cursors are cleared so
// the next sync pulls full history. The schema is kept intact.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"sync_runs",
			"transactions",
			"accounts",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "UPDATE institutions SET cursor = NULL, last_sync_at = NULL"); err != nil {
			return fmt.Errorf("reset cursors: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}
