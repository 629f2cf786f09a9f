package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// InsertSyncRun appends a row to the sync audit log
func (s *Store) InsertSyncRun(ctx context.Context, run *types.SyncRun) error {
	_, err := s.cache.DB().ExecContext(ctx, `
		INSERT INTO sync_log (run_id, account_id, cycle, started_at, finished_at, synced, total,
			folders_ok, folders_failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.AccountID, run.Cycle, unix(run.StartedAt), unix(run.FinishedAt),
		run.Synced, run.Total, run.FoldersOK, run.FoldersFailed, run.Error)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}
	return nil
}

type syncRunRow struct {
	RunID         string `db:"run_id"`
	AccountID     int64  `db:"account_id"`
	Cycle         string `db:"cycle"`
	StartedAt     int64  `db:"started_at"`
	FinishedAt    int64  `db:"finished_at"`
	Synced        int    `db:"synced"`
	Total         int    `db:"total"`
	FoldersOK     int    `db:"folders_ok"`
	FoldersFailed int    `db:"folders_failed"`
	Error         string `db:"error"`
}

// RecentSyncRuns returns the latest audit rows of an account, newest first
func (s *Store) RecentSyncRuns(ctx context.Context, accountID int64, limit int) ([]types.SyncRun, error) {
	var rows []syncRunRow
	if err := s.cache.DB().SelectContext(ctx, &rows, `
		SELECT run_id, account_id, cycle, started_at, finished_at, synced, total, folders_ok, folders_failed, error
		FROM sync_log WHERE account_id = ?
		ORDER BY id DESC LIMIT ?`, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	runs := make([]types.SyncRun, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, types.SyncRun{
			RunID:         r.RunID,
			AccountID:     r.AccountID,
			Cycle:         r.Cycle,
			StartedAt:     fromUnix(r.StartedAt),
			FinishedAt:    fromUnix(r.FinishedAt),
			Synced:        r.Synced,
			Total:         r.Total,
			FoldersOK:     r.FoldersOK,
			FoldersFailed: r.FoldersFailed,
			Error:         r.Error,
		})
	}
	return runs, nil
}

// PruneLogs deletes sync and search log rows older than cutoff
func (s *Store) PruneLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		"DELETE FROM sync_log WHERE finished_at < ?",
		"DELETE FROM search_log WHERE created_at < ?",
	} {
		res, err := s.cache.DB().ExecContext(ctx, q, cutoff.Unix())
		if err != nil {
			return total, fmt.Errorf("failed to prune logs: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
