package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

type attachmentRow struct {
	ID          int64          `db:"id"`
	EmailID     int64          `db:"email_id"`
	Checksum    string         `db:"checksum"`
	Filename    string         `db:"filename"`
	ContentType string         `db:"content_type"`
	Size        int64          `db:"size"`
	StoragePath sql.NullString `db:"storage_path"`
	ExpiresAt   sql.NullInt64  `db:"expires_at"`
}

func (r *attachmentRow) toAttachment() types.Attachment {
	return types.Attachment{
		ID:          r.ID,
		EmailID:     r.EmailID,
		Checksum:    r.Checksum,
		Filename:    r.Filename,
		ContentType: r.ContentType,
		Size:        r.Size,
		StoragePath: r.StoragePath.String,
		ExpiresAt:   nullUnix(r.ExpiresAt),
	}
}

const attachmentColumns = "id, email_id, checksum, filename, content_type, size, storage_path, expires_at"

// UpsertAttachment stores attachment metadata. Re-extracting the same
// attachment of the same email refreshes its path and expiry.
func (s *Store) UpsertAttachment(ctx context.Context, a *types.Attachment) error {
	var path sql.NullString
	if a.StoragePath != "" {
		path = sql.NullString{String: a.StoragePath, Valid: true}
	}
	var expires sql.NullInt64
	if a.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: a.ExpiresAt.Unix(), Valid: true}
	}
	_, err := s.cache.DB().ExecContext(ctx, `
		INSERT INTO attachments (email_id, checksum, filename, content_type, size, storage_path, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email_id, checksum, filename) DO UPDATE SET
			content_type = excluded.content_type,
			size = excluded.size,
			storage_path = excluded.storage_path,
			expires_at = excluded.expires_at`,
		a.EmailID, a.Checksum, a.Filename, a.ContentType, a.Size, path, expires)
	if err != nil {
		return fmt.Errorf("failed to upsert attachment: %w", err)
	}
	return nil
}

// FindPathByChecksum returns a storage path already holding content with this checksum
func (s *Store) FindPathByChecksum(ctx context.Context, checksum string) (string, error) {
	var path string
	err := s.cache.DB().GetContext(ctx, &path, `
		SELECT storage_path FROM attachments
		WHERE checksum = ? AND storage_path IS NOT NULL
		ORDER BY id LIMIT 1`, checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up checksum: %w", err)
	}
	return path, nil
}

// ListAttachments returns the attachment rows of an email
func (s *Store) ListAttachments(ctx context.Context, emailID int64) ([]types.Attachment, error) {
	var rows []attachmentRow
	if err := s.cache.DB().SelectContext(ctx, &rows,
		"SELECT "+attachmentColumns+" FROM attachments WHERE email_id = ? ORDER BY id", emailID); err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	out := make([]types.Attachment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAttachment())
	}
	return out, nil
}

// ExpiredAttachments returns attachments with a stored file whose expiry has passed
func (s *Store) ExpiredAttachments(ctx context.Context, now time.Time) ([]types.Attachment, error) {
	var rows []attachmentRow
	if err := s.cache.DB().SelectContext(ctx, &rows, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE storage_path IS NOT NULL AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY id`, now.Unix()); err != nil {
		return nil, fmt.Errorf("failed to list expired attachments: %w", err)
	}
	out := make([]types.Attachment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAttachment())
	}
	return out, nil
}

// PathInUse reports whether an unexpired row other than excludeID still points at path
func (s *Store) PathInUse(ctx context.Context, path string, excludeID int64, now time.Time) (bool, error) {
	var n int
	err := s.cache.DB().GetContext(ctx, &n, `
		SELECT COUNT(*) FROM attachments
		WHERE storage_path = ? AND id != ? AND (expires_at IS NULL OR expires_at > ?)`,
		path, excludeID, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to check attachment path: %w", err)
	}
	return n > 0, nil
}

// ClearAttachmentPath marks an attachment file as evicted
func (s *Store) ClearAttachmentPath(ctx context.Context, id int64) error {
	if _, err := s.cache.DB().ExecContext(ctx,
		"UPDATE attachments SET storage_path = NULL WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to clear attachment path: %w", err)
	}
	return nil
}

// removeUnreferenced deletes attachment files that no unexpired row points
// at any more. Failures are logged; a file left behind is harmless.
func (s *Store) removeUnreferenced(ctx context.Context, paths []string) {
	now := s.now()
	for _, path := range paths {
		logger := s.logger.WithField("path", path)
		inUse, err := s.PathInUse(ctx, path, 0, now)
		if err != nil {
			logger.WithError(err).Warn("Failed to check attachment file")
			continue
		}
		if inUse {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Warn("Failed to delete attachment file")
		}
	}
}
