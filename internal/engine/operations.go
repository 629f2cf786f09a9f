package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/brandon/mailsync/internal/bodycache"
	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/coordinator"
	"github.com/brandon/mailsync/internal/worker"
	"github.com/brandon/mailsync/pkg/types"
)

// Status is the monitoring snapshot returned by SyncStatus
type Status struct {
	Accounts []coordinator.AccountState `json:"accounts"`
	// QueueSize counts on-demand tasks queued or running
	QueueSize int `json:"queue_size"`
}

// SyncStatus reports the state of every active account and the on-demand queue
func (e *Engine) SyncStatus(ctx context.Context) (*Status, error) {
	accts, err := e.coord.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{Accounts: accts, QueueSize: e.pool.Pending()}, nil
}

// TriggerSync queues a quick sync of every active account. The returned
// task completes when the cycle has finished.
func (e *Engine) TriggerSync(ctx context.Context) (*worker.Task, error) {
	return e.pool.Submit("sync-all", func(ctx context.Context) error {
		_, err := e.coord.SyncAll(ctx, coordinator.CycleManual, e.cfg.Sync.QuickLimit)
		return err
	})
}

// SyncUserAccounts queues a sync of one user's accounts, for example on login
func (e *Engine) SyncUserAccounts(ctx context.Context, userID string) (*worker.Task, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return e.pool.Submit("sync-user:"+userID, func(ctx context.Context) error {
		_, err := e.coord.SyncUser(ctx, userID, e.cfg.Sync.QuickLimit)
		return err
	})
}

// SyncAccount syncs one account synchronously. A sync already in flight
// is reported through coordinator.ErrAlreadySyncing.
func (e *Engine) SyncAccount(ctx context.Context, name string, cycle coordinator.Cycle) (*coordinator.AccountResult, error) {
	id, err := e.store.GetAccountID(ctx, name)
	if err != nil {
		return nil, err
	}
	limit := e.cfg.Sync.QuickLimit
	if cycle == coordinator.CycleDeep {
		limit = e.cfg.Sync.DeepLimit
	}
	return e.coord.SyncAccount(ctx, id, limit, cycle)
}

// SyncNow runs one cycle over every active account and waits for it
func (e *Engine) SyncNow(ctx context.Context, cycle coordinator.Cycle) (*coordinator.Summary, error) {
	limit := e.cfg.Sync.QuickLimit
	if cycle == coordinator.CycleDeep {
		limit = e.cfg.Sync.DeepLimit
	}
	return e.coord.SyncAll(ctx, cycle, limit)
}

// FetchEmailBody returns the body of a cached email, from the cache when fresh
func (e *Engine) FetchEmailBody(ctx context.Context, emailID int64) (*bodycache.Body, error) {
	return e.bodies.FetchBody(ctx, emailID)
}

// GetEmail returns a header row together with its body
func (e *Engine) GetEmail(ctx context.Context, emailID int64) (*types.Email, *bodycache.Body, error) {
	hdr, err := e.store.GetEmail(ctx, emailID)
	if err != nil {
		return nil, nil, err
	}
	body, err := e.bodies.FetchBody(ctx, emailID)
	if err != nil {
		return hdr, nil, err
	}
	return hdr, body, nil
}

// Search runs a search scoped to userID. Free-text queries are logged in
// the background for popularity ranking.
func (e *Engine) Search(ctx context.Context, userID string, opts cache.SearchOptions) (*types.SearchResult, error) {
	opts.UserID = userID
	if opts.Limit <= 0 || opts.Limit > e.cfg.SearchResultLimit {
		opts.Limit = e.cfg.SearchResultLimit
	}
	res, err := e.store.Search(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.Query != "" && userID != "" {
		query, total := opts.Query, res.Total
		if _, err := e.pool.Submit("search-log", func(ctx context.Context) error {
			return e.store.LogSearch(ctx, userID, query, total)
		}); err != nil {
			e.logger.WithError(err).Debug("Search not logged")
		}
	}
	return res, nil
}

// Suggestions returns typeahead candidates for prefix
func (e *Engine) Suggestions(ctx context.Context, userID, prefix string) ([]types.Suggestion, error) {
	return e.store.Suggestions(ctx, userID, prefix, 10)
}

// PopularSearches returns the user's most frequent recent queries
func (e *Engine) PopularSearches(ctx context.Context, userID string) ([]types.PopularSearch, error) {
	return e.store.PopularSearches(ctx, userID, 10)
}

// Folders lists the folders and checkpoints of an account, or of every
// account when name is empty
func (e *Engine) Folders(ctx context.Context, name string) ([]types.Folder, error) {
	var id int64
	if name != "" {
		var err error
		if id, err = e.store.GetAccountID(ctx, name); err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
	}
	return e.store.ListFolders(ctx, id)
}

// AccountID resolves an account name
func (e *Engine) AccountID(ctx context.Context, name string) (int64, error) {
	return e.store.GetAccountID(ctx, name)
}

// RecentRuns returns the latest sync log rows of an account
func (e *Engine) RecentRuns(ctx context.Context, name string, limit int) ([]types.SyncRun, error) {
	id, err := e.store.GetAccountID(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.store.RecentSyncRuns(ctx, id, limit)
}
