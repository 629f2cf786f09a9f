package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brandon/mailsync/pkg/types"
)

type folderRow struct {
	ID             int64         `db:"id"`
	AccountID      int64         `db:"account_id"`
	AccountName    string        `db:"account_name"`
	Name           string        `db:"name"`
	Path           string        `db:"path"`
	MessageCount   int           `db:"message_count"`
	Unseen         int           `db:"unseen"`
	UIDValidity    int64         `db:"uid_validity"`
	UIDNext        int64         `db:"uid_next"`
	LastUIDSynced  int64         `db:"last_uid_synced"`
	LastSyncAt     sql.NullInt64 `db:"last_sync_at"`
	SyncInProgress bool          `db:"sync_in_progress"`
	ErrorMessage   string        `db:"error_message"`
	ErrorAt        sql.NullInt64 `db:"error_at"`
}

func (r *folderRow) toFolder() types.Folder {
	return types.Folder{
		ID:             r.ID,
		AccountID:      r.AccountID,
		AccountName:    r.AccountName,
		Name:           r.Name,
		Path:           r.Path,
		MessageCount:   r.MessageCount,
		Unseen:         r.Unseen,
		UIDValidity:    uint32(r.UIDValidity),
		UIDNext:        uint32(r.UIDNext),
		LastUIDSynced:  uint32(r.LastUIDSynced),
		LastSynced:     nullUnix(r.LastSyncAt),
		SyncInProgress: r.SyncInProgress,
		ErrorMessage:   r.ErrorMessage,
		ErrorAt:        nullUnix(r.ErrorAt),
	}
}

const folderColumns = `f.id, f.account_id, a.name AS account_name, f.name, f.path, f.message_count, f.unseen,
	f.uid_validity, f.uid_next, f.last_uid_synced, f.last_sync_at, f.sync_in_progress, f.error_message, f.error_at`

// BeginFolderSync creates the folder row if needed, marks it in progress and
// returns its current checkpoint.
func (s *Store) BeginFolderSync(ctx context.Context, accountID int64, name string) (*types.Folder, error) {
	_, err := s.cache.DB().ExecContext(ctx, `
		INSERT INTO folders (account_id, name, sync_in_progress)
		VALUES (?, ?, 1)
		ON CONFLICT(account_id, name) DO UPDATE SET sync_in_progress = 1`,
		accountID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to begin folder sync: %w", err)
	}
	return s.GetFolder(ctx, accountID, name)
}

// EndFolderSync clears the in-progress flag. It must run on every exit path.
func (s *Store) EndFolderSync(ctx context.Context, folderID int64) error {
	if _, err := s.cache.DB().ExecContext(ctx,
		"UPDATE folders SET sync_in_progress = 0 WHERE id = ?", folderID); err != nil {
		return fmt.Errorf("failed to end folder sync: %w", err)
	}
	return nil
}

// GetFolder returns the folder row for (account, name)
func (s *Store) GetFolder(ctx context.Context, accountID int64, name string) (*types.Folder, error) {
	var row folderRow
	err := s.cache.DB().GetContext(ctx, &row, `
		SELECT `+folderColumns+`
		FROM folders f JOIN accounts a ON a.id = f.account_id
		WHERE f.account_id = ? AND f.name = ?`, accountID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	f := row.toFolder()
	return &f, nil
}

// GetFolderByID returns one folder row
func (s *Store) GetFolderByID(ctx context.Context, id int64) (*types.Folder, error) {
	var row folderRow
	err := s.cache.DB().GetContext(ctx, &row, `
		SELECT `+folderColumns+`
		FROM folders f JOIN accounts a ON a.id = f.account_id
		WHERE f.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	f := row.toFolder()
	return &f, nil
}

// ListFolders returns the folders of an account, or of every account when accountID is 0
func (s *Store) ListFolders(ctx context.Context, accountID int64) ([]types.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders f JOIN accounts a ON a.id = f.account_id`
	var args []interface{}
	if accountID > 0 {
		query += " WHERE f.account_id = ?"
		args = append(args, accountID)
	}
	query += " ORDER BY f.account_id, f.name"

	var rows []folderRow
	if err := s.cache.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	folders := make([]types.Folder, 0, len(rows))
	for i := range rows {
		folders = append(folders, rows[i].toFolder())
	}
	return folders, nil
}

// UpdateFolderStatus persists the server-reported STATUS values and resolved path
func (s *Store) UpdateFolderStatus(ctx context.Context, folderID int64, path string, messages, unseen int, uidValidity, uidNext uint32) error {
	_, err := s.cache.DB().ExecContext(ctx, `
		UPDATE folders SET path = ?, message_count = ?, unseen = ?, uid_validity = ?, uid_next = ?
		WHERE id = ?`,
		path, messages, unseen, int64(uidValidity), int64(uidNext), folderID)
	if err != nil {
		return fmt.Errorf("failed to update folder status: %w", err)
	}
	return nil
}

// ResetFolderEpoch discards the cached headers of a folder and restarts its
// checkpoint. Used when the server reports a new UIDVALIDITY. Attachment
// files no remaining row points at are deleted.
func (s *Store) ResetFolderEpoch(ctx context.Context, folderID int64) (int64, error) {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var paths []string
	if err := tx.SelectContext(ctx, &paths, `
		SELECT DISTINCT a.storage_path FROM attachments a
		JOIN emails e ON e.id = a.email_id
		WHERE e.folder_id = ? AND a.storage_path IS NOT NULL`, folderID); err != nil {
		return 0, fmt.Errorf("failed to list folder attachments: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM emails WHERE folder_id = ?", folderID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge folder headers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE folders SET last_uid_synced = 0 WHERE id = ?", folderID); err != nil {
		return 0, fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	s.removeUnreferenced(ctx, paths)
	n, _ := res.RowsAffected()
	return n, nil
}

// AdvanceCheckpoint records a successful sync. The checkpoint never moves backwards.
func (s *Store) AdvanceCheckpoint(ctx context.Context, folderID int64, maxUID uint32) error {
	_, err := s.cache.DB().ExecContext(ctx, `
		UPDATE folders SET
			last_uid_synced = MAX(last_uid_synced, ?),
			last_sync_at = ?,
			error_message = '',
			error_at = NULL
		WHERE id = ?`,
		int64(maxUID), s.now().Unix(), folderID)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}

// RecordFolderError stores the last failure of a folder sync
func (s *Store) RecordFolderError(ctx context.Context, folderID int64, msg string) error {
	_, err := s.cache.DB().ExecContext(ctx,
		"UPDATE folders SET error_message = ?, error_at = ? WHERE id = ?",
		msg, s.now().Unix(), folderID)
	if err != nil {
		return fmt.Errorf("failed to record folder error: %w", err)
	}
	return nil
}

// ResetStuckSyncs clears in-progress flags left behind by a previous process
func (s *Store) ResetStuckSyncs(ctx context.Context) (int64, error) {
	res, err := s.cache.DB().ExecContext(ctx, "UPDATE folders SET sync_in_progress = 0 WHERE sync_in_progress = 1")
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck syncs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.WithField("folders", n).Warn("Cleared stale sync_in_progress flags")
	}
	return n, nil
}
