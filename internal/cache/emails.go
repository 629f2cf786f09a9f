package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

type emailRow struct {
	ID             int64          `db:"id"`
	AccountID      int64          `db:"account_id"`
	AccountName    string         `db:"account_name"`
	FolderID       int64          `db:"folder_id"`
	FolderName     string         `db:"folder_name"`
	FolderPath     string         `db:"folder_path"`
	UID            int64          `db:"uid"`
	MessageID      string         `db:"message_id"`
	Subject        string         `db:"subject"`
	SenderName     string         `db:"sender_name"`
	SenderEmail    string         `db:"sender_email"`
	Recipients     string         `db:"recipients"`
	Date           int64          `db:"date"`
	IsRead         bool           `db:"is_read"`
	IsStarred      bool           `db:"is_starred"`
	IsArchived     bool           `db:"is_archived"`
	IsSpam         bool           `db:"is_spam"`
	IsTrash        bool           `db:"is_trash"`
	IsDraft        bool           `db:"is_draft"`
	IsSnoozed      bool           `db:"is_snoozed"`
	HasAttachments bool           `db:"has_attachments"`
	ThreadID       string         `db:"thread_id"`
	Snippet        string         `db:"snippet"`
	BodyText       sql.NullString `db:"body_text"`
	BodyCompressed []byte         `db:"body_compressed"`
	BodyExpiresAt  sql.NullInt64  `db:"body_expires_at"`
	CachedAt       int64          `db:"cached_at"`
}

func (r *emailRow) toEmail() (*types.Email, error) {
	e := &types.Email{
		ID:          r.ID,
		AccountID:   r.AccountID,
		AccountName: r.AccountName,
		FolderID:    r.FolderID,
		FolderName:  r.FolderName,
		FolderPath:  r.FolderPath,
		UID:         uint32(r.UID),
		MessageID:   r.MessageID,
		Subject:     r.Subject,
		SenderName:  r.SenderName,
		SenderEmail: r.SenderEmail,
		Date:        fromUnix(r.Date),
		Flags: types.Flags{
			Read:     r.IsRead,
			Starred:  r.IsStarred,
			Archived: r.IsArchived,
			Spam:     r.IsSpam,
			Trash:    r.IsTrash,
			Draft:    r.IsDraft,
			Snoozed:  r.IsSnoozed,
		},
		HasAttachments: r.HasAttachments,
		ThreadID:       r.ThreadID,
		Snippet:        r.Snippet,
		BodyText:       r.BodyText.String,
		BodyCompressed: r.BodyCompressed,
		BodyExpiresAt:  nullUnix(r.BodyExpiresAt),
		CachedAt:       fromUnix(r.CachedAt),
	}
	if r.Recipients != "" {
		if err := json.Unmarshal([]byte(r.Recipients), &e.Recipients); err != nil {
			return nil, fmt.Errorf("failed to decode recipients: %w", err)
		}
	}
	return e, nil
}

// ExistingUIDs returns the set of UIDs already cached for a folder
func (s *Store) ExistingUIDs(ctx context.Context, folderID int64) (map[uint32]struct{}, error) {
	var uids []int64
	if err := s.cache.DB().SelectContext(ctx, &uids, "SELECT uid FROM emails WHERE folder_id = ?", folderID); err != nil {
		return nil, fmt.Errorf("failed to load existing uids: %w", err)
	}
	set := make(map[uint32]struct{}, len(uids))
	for _, uid := range uids {
		set[uint32(uid)] = struct{}{}
	}
	return set, nil
}

// UpsertHeader stores a header row. A row that already exists for
// (account, folder, uid) only has its flags refreshed.
func (s *Store) UpsertHeader(ctx context.Context, e *types.Email) error {
	recipients := e.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	recipientsJSON, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	query := `
		INSERT INTO emails (account_id, folder_id, uid, message_id, subject, sender_name, sender_email,
			recipients, date, is_read, is_starred, is_archived, is_spam, is_trash, is_draft, is_snoozed,
			has_attachments, thread_id, snippet, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder_id, uid) DO UPDATE SET
			is_read = excluded.is_read,
			is_starred = excluded.is_starred,
			is_archived = excluded.is_archived,
			is_spam = excluded.is_spam,
			is_trash = excluded.is_trash,
			is_draft = excluded.is_draft,
			is_snoozed = excluded.is_snoozed
	`
	_, err = s.cache.DB().ExecContext(ctx, query,
		e.AccountID, e.FolderID, int64(e.UID), e.MessageID, e.Subject, e.SenderName, e.SenderEmail,
		string(recipientsJSON), unix(e.Date),
		e.Flags.Read, e.Flags.Starred, e.Flags.Archived, e.Flags.Spam, e.Flags.Trash, e.Flags.Draft, e.Flags.Snoozed,
		e.HasAttachments, e.ThreadID, e.Snippet, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert email: %w", err)
	}
	return nil
}

// GetEmail retrieves an email by ID, including its cached body columns
func (s *Store) GetEmail(ctx context.Context, id int64) (*types.Email, error) {
	var row emailRow
	err := s.cache.DB().GetContext(ctx, &row, `
		SELECT e.id, e.account_id, a.name AS account_name, e.folder_id, f.name AS folder_name,
			f.path AS folder_path, e.uid, e.message_id, e.subject, e.sender_name, e.sender_email,
			e.recipients, e.date, e.is_read, e.is_starred, e.is_archived, e.is_spam, e.is_trash,
			e.is_draft, e.is_snoozed, e.has_attachments, e.thread_id, e.snippet, e.body_text,
			e.body_compressed, e.body_expires_at, e.cached_at
		FROM emails e
		JOIN accounts a ON a.id = e.account_id
		JOIN folders f ON f.id = e.folder_id
		WHERE e.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return row.toEmail()
}

// CountEmails returns the number of cached headers in a folder
func (s *Store) CountEmails(ctx context.Context, folderID int64) (int, error) {
	var n int
	if err := s.cache.DB().GetContext(ctx, &n, "SELECT COUNT(*) FROM emails WHERE folder_id = ?", folderID); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

// SaveBody stores the compressed body of an email and the plain text used for search
func (s *Store) SaveBody(ctx context.Context, emailID int64, text string, compressed []byte, expiresAt time.Time) error {
	_, err := s.cache.DB().ExecContext(ctx, `
		UPDATE emails SET body_text = ?, body_compressed = ?, body_expires_at = ?
		WHERE id = ?`, text, compressed, expiresAt.Unix(), emailID)
	if err != nil {
		return fmt.Errorf("failed to save body: %w", err)
	}
	return nil
}

// RecentWithoutBody returns, for every folder of the account, the IDs of up to
// perFolder most recent headers that have no live cached body.
func (s *Store) RecentWithoutBody(ctx context.Context, accountID int64, perFolder int) ([]int64, error) {
	var ids []int64
	err := s.cache.DB().SelectContext(ctx, &ids, `
		SELECT id FROM (
			SELECT id, date, uid, ROW_NUMBER() OVER (PARTITION BY folder_id ORDER BY date DESC, uid DESC) AS rn
			FROM emails
			WHERE account_id = ?
				AND (body_compressed IS NULL OR body_expires_at IS NULL OR body_expires_at <= ?)
		) ranked
		WHERE rn <= ?
		ORDER BY date DESC, uid DESC`,
		accountID, s.now().Unix(), perFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to list prefetch candidates: %w", err)
	}
	return ids, nil
}

// ExpireBodies nulls every body whose TTL has passed. Header rows stay.
func (s *Store) ExpireBodies(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.cache.DB().ExecContext(ctx, `
		UPDATE emails SET body_text = NULL, body_compressed = NULL, body_expires_at = NULL
		WHERE body_expires_at IS NOT NULL AND body_expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to expire bodies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
