package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/lock"
	"github.com/brandon/mailsync/internal/metrics"
	"github.com/brandon/mailsync/pkg/types"
)

const (
	// DefaultBatchSize is how many headers are fetched per round trip
	DefaultBatchSize = 50
	// DefaultFolderTimeout bounds one folder sync end to end
	DefaultFolderTimeout = 60 * time.Second
)

// FolderStore is the part of the cache the synchronizer writes to
type FolderStore interface {
	BeginFolderSync(ctx context.Context, accountID int64, name string) (*types.Folder, error)
	EndFolderSync(ctx context.Context, folderID int64) error
	UpdateFolderStatus(ctx context.Context, folderID int64, path string, messages, unseen int, uidValidity, uidNext uint32) error
	ResetFolderEpoch(ctx context.Context, folderID int64) (int64, error)
	AdvanceCheckpoint(ctx context.Context, folderID int64, maxUID uint32) error
	RecordFolderError(ctx context.Context, folderID int64, msg string) error
	ExistingUIDs(ctx context.Context, folderID int64) (map[uint32]struct{}, error)
	UpsertHeader(ctx context.Context, e *types.Email) error
}

// Result summarizes one folder sync
type Result struct {
	// Synced is the number of headers newly written
	Synced int
	// Total is the number of messages in the sync window
	Total int
	// Skipped is set when the folder does not exist on the server
	Skipped bool
}

// Synchronizer pulls new message headers of one folder into the cache
type Synchronizer struct {
	store     FolderStore
	dialer    Dialer
	creds     CredentialSource
	locker    lock.Locker
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	batchSize int
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithBatchSize sets how many headers are fetched per round trip
func WithBatchSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithFolderTimeout bounds each folder sync
func WithFolderTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records folder sync outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer creates a folder synchronizer
func NewSynchronizer(store FolderStore, dialer Dialer, creds CredentialSource, locker lock.Locker, logger *logrus.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:     store,
		dialer:    dialer,
		creds:     creds,
		locker:    locker,
		logger:    logger,
		batchSize: DefaultBatchSize,
		timeout:   DefaultFolderTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync brings the cached headers of one folder up to date. On the
// first sync only the newest limit messages are taken; afterwards every
// message above the checkpoint is.
func (s *Synchronizer) Sync(ctx context.Context, acct *types.Account, folder string, limit int) (res Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()

	logger := s.logger.WithFields(logrus.Fields{
		"account": acct.Name,
		"folder":  folder,
	})

	row, err := s.store.BeginFolderSync(ctx, acct.ID, folder)
	if err != nil {
		return Result{}, fmt.Errorf("failed to mark folder in progress: %w", err)
	}
	defer func() {
		// the flag is cleared whatever happened, even after a timeout
		if endErr := s.store.EndFolderSync(context.WithoutCancel(ctx), row.ID); endErr != nil {
			logger.WithError(endErr).Error("Failed to clear in-progress flag")
		}
	}()

	err = WithSession(ctx, s.dialer, s.creds, acct, s.logger, func(sess Session) error {
		var serr error
		res, serr = s.syncOnce(ctx, sess, acct, row, limit)
		return serr
	})
	switch {
	case errors.Is(err, ErrFolderNotFound):
		logger.Debug("Folder not present on server, skipping")
		s.metrics.ObserveFolderSync("skipped", time.Since(start), 0)
		return Result{Skipped: true}, nil
	case err != nil:
		if recErr := s.store.RecordFolderError(context.WithoutCancel(ctx), row.ID, err.Error()); recErr != nil {
			logger.WithError(recErr).Error("Failed to record folder error")
		}
		s.metrics.ObserveFolderSync("error", time.Since(start), res.Synced)
		logger.WithError(err).Warn("Folder sync failed")
		return res, err
	}

	s.metrics.ObserveFolderSync("ok", time.Since(start), res.Synced)
	logger.WithFields(logrus.Fields{
		"synced":   res.Synced,
		"total":    res.Total,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Folder synced")
	return res, nil
}

func (s *Synchronizer) syncOnce(ctx context.Context, sess Session, acct *types.Account, row *types.Folder, limit int) (Result, error) {
	path, status, err := s.resolvePath(ctx, sess, row)
	if err != nil {
		return Result{}, err
	}

	if row.UIDValidity != 0 && status.UIDValidity != row.UIDValidity {
		purged, err := s.store.ResetFolderEpoch(ctx, row.ID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to reset folder: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"account": acct.Name,
			"folder":  row.Name,
			"old":     row.UIDValidity,
			"new":     status.UIDValidity,
			"purged":  purged,
		}).Warn("UIDVALIDITY changed, folder cache reset")
		row.LastUIDSynced = 0
	}
	row.UIDValidity = status.UIDValidity

	if err := s.store.UpdateFolderStatus(ctx, row.ID, path, int(status.Messages), int(status.Unseen), status.UIDValidity, status.UIDNext); err != nil {
		return Result{}, fmt.Errorf("failed to store folder status: %w", err)
	}
	if status.Messages == 0 {
		return Result{}, s.store.AdvanceCheckpoint(ctx, row.ID, row.LastUIDSynced)
	}

	release, err := s.locker.Acquire(ctx, mailboxKey(acct.ID, path))
	if err != nil {
		return Result{}, &NetworkError{Op: "lock", Err: err}
	}
	defer release()

	if _, err := sess.Select(ctx, path, true); err != nil {
		return Result{}, err
	}
	uids, err := sess.SearchUIDs(ctx, row.LastUIDSynced+1)
	if err != nil {
		return Result{}, err
	}
	window := syncWindow(uids, row.LastUIDSynced, limit)
	res := Result{Total: len(window)}
	if len(window) == 0 {
		return res, s.store.AdvanceCheckpoint(ctx, row.ID, row.LastUIDSynced)
	}

	known, err := s.store.ExistingUIDs(ctx, row.ID)
	if err != nil {
		return res, fmt.Errorf("failed to load cached uids: %w", err)
	}
	todo := make([]uint32, 0, len(window))
	for _, uid := range window {
		if _, ok := known[uid]; !ok {
			todo = append(todo, uid)
		}
	}

	role := RoleOf(row.Name)
	for start := 0; start < len(todo); start += s.batchSize {
		end := start + s.batchSize
		if end > len(todo) {
			end = len(todo)
		}
		err := sess.FetchHeaders(ctx, todo[start:end], func(m *Message) error {
			e := s.toEmail(acct, row, role, m)
			if err := s.store.UpsertHeader(ctx, e); err != nil {
				s.logger.WithError(&ItemError{UID: m.UID, Err: err}).
					WithField("account", acct.Name).
					Warn("Failed to store header")
				return nil
			}
			res.Synced++
			return nil
		})
		if err != nil {
			// headers already stored stay; the checkpoint does not move
			return res, err
		}
	}

	if err := s.store.AdvanceCheckpoint(ctx, row.ID, window[len(window)-1]); err != nil {
		return res, fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return res, nil
}

// resolvePath finds the server mailbox behind a folder name, trying
// provider aliases for logical folders
func (s *Synchronizer) resolvePath(ctx context.Context, sess Session, row *types.Folder) (string, *MailboxStatus, error) {
	for _, candidate := range Candidates(row.Name, row.Path) {
		st, err := sess.Status(ctx, candidate)
		if errors.Is(err, ErrFolderNotFound) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return candidate, st, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrFolderNotFound, row.Name)
}

func (s *Synchronizer) toEmail(acct *types.Account, row *types.Folder, role string, m *Message) *types.Email {
	date := m.Date
	if date.IsZero() {
		date = s.now()
	}
	return &types.Email{
		AccountID:      acct.ID,
		FolderID:       row.ID,
		UID:            m.UID,
		MessageID:      m.MessageID,
		Subject:        m.Subject,
		SenderName:     m.From.Name,
		SenderEmail:    m.From.Email,
		Recipients:     m.Recipients(),
		Date:           date.UTC(),
		Flags:          FlagsFrom(m.Flags, role),
		HasAttachments: HasAttachments(m.Structure),
		ThreadID:       ThreadID(m.MessageID, m.InReplyTo, m.References),
		Snippet:        Snippet(m.Structure, m.Preview),
	}
}

// syncWindow keeps UIDs above the checkpoint in ascending order. A server
// answers "N:*" with the last message even when its UID is below N, so the
// filter is applied here. Without a checkpoint only the newest limit UIDs
// are kept.
func syncWindow(uids []uint32, checkpoint uint32, limit int) []uint32 {
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > checkpoint {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if checkpoint == 0 && limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func mailboxKey(accountID int64, path string) string {
	return fmt.Sprintf("mailbox:%d:%s", accountID, path)
}
