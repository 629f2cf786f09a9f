// Package coordinator runs account syncs, keeps their state and makes sure
// an account is never synced twice at once
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/metrics"
	"github.com/brandon/mailsync/pkg/types"
)

// Cycle names the kind of run that triggered a sync
type Cycle string

const (
	CycleQuick  Cycle = "quick"
	CycleDeep   Cycle = "deep"
	CycleManual Cycle = "manual"
)

// DefaultParallelism is how many accounts a quick cycle syncs at once
const DefaultParallelism = 5

// ErrAlreadySyncing is returned when the account has a sync in flight.
// Callers treat it as a no-op.
var ErrAlreadySyncing = errors.New("account is already syncing")

// AccountSource is where account records are read from
type AccountSource interface {
	GetAccount(ctx context.Context, id int64) (*types.Account, error)
	ListActiveAccounts(ctx context.Context) ([]types.Account, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]types.Account, error)
}

// RunLog records finished account syncs
type RunLog interface {
	InsertSyncRun(ctx context.Context, run *types.SyncRun) error
}

// FolderSyncer syncs one folder of an account
type FolderSyncer interface {
	Sync(ctx context.Context, acct *types.Account, folder string, limit int) (email.Result, error)
}

// FolderSets maps a provider id to the folders synced for it
type FolderSets interface {
	SyncFolders(provider string) []string
}

// Prefetcher warms bodies after a deep sync
type Prefetcher interface {
	Prefetch(ctx context.Context, accountID int64) (int, error)
}

// AccountResult aggregates the folder results of one account sync
type AccountResult struct {
	RunID         string `json:"run_id"`
	AccountID     int64  `json:"account_id"`
	Account       string `json:"account"`
	Synced        int    `json:"synced"`
	Total         int    `json:"total"`
	FoldersOK     int    `json:"folders_ok"`
	FoldersFailed int    `json:"folders_failed"`
	Error         string `json:"error,omitempty"`
}

// Summary aggregates a multi-account run
type Summary struct {
	Cycle    Cycle           `json:"cycle"`
	Accounts []AccountResult `json:"accounts"`
	Skipped  int             `json:"skipped"`
	Busy     int             `json:"busy"`
	Synced   int             `json:"synced"`
}

// Coordinator drives account syncs
type Coordinator struct {
	accounts    AccountSource
	logs        RunLog
	syncer      FolderSyncer
	folders     FolderSets
	prefetcher  Prefetcher
	registry    *Registry
	parallelism int
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithParallelism sets the quick-cycle batch size
func WithParallelism(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithPrefetcher warms bodies after each account of a deep cycle
func WithPrefetcher(p Prefetcher) Option {
	return func(c *Coordinator) { c.prefetcher = p }
}

// WithMetrics records account outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator with its own registry
func New(accounts AccountSource, logs RunLog, syncer FolderSyncer, folders FolderSets, logger *logrus.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		accounts:    accounts,
		logs:        logs,
		syncer:      syncer,
		folders:     folders,
		registry:    NewRegistry(),
		parallelism: DefaultParallelism,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the coordinator's account states
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// SyncAll syncs every active account. The account list is read fresh on
// each call. Quick cycles run accounts in concurrent batches, deep cycles
// one at a time. Accounts whose password was rejected are skipped until
// their record changes.
func (c *Coordinator) SyncAll(ctx context.Context, cycle Cycle, limit int) (*Summary, error) {
	accts, err := c.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var eligible []types.Account
	summary := &Summary{Cycle: cycle}
	for _, a := range accts {
		if c.registry.skip(&a) {
			summary.Skipped++
			c.logger.WithField("account", a.Name).Debug("Skipping account with rejected credentials")
			continue
		}
		eligible = append(eligible, a)
	}

	c.logger.WithFields(logrus.Fields{
		"cycle":    cycle,
		"accounts": len(eligible),
		"skipped":  summary.Skipped,
	}).Info("Starting sync cycle")

	c.runAccounts(ctx, eligible, cycle, limit, summary)

	c.logger.WithFields(logrus.Fields{
		"cycle":  cycle,
		"synced": summary.Synced,
		"busy":   summary.Busy,
	}).Info("Sync cycle finished")
	return summary, nil
}

// SyncUser syncs the active accounts of one user, skipping none
func (c *Coordinator) SyncUser(ctx context.Context, userID string, limit int) (*Summary, error) {
	accts, err := c.accounts.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	summary := &Summary{Cycle: CycleManual}
	c.runAccounts(ctx, accts, CycleManual, limit, summary)
	return summary, nil
}

func (c *Coordinator) runAccounts(ctx context.Context, accts []types.Account, cycle Cycle, limit int, summary *Summary) {
	batch := c.parallelism
	if cycle == CycleDeep {
		batch = 1
	}

	results := make([]*AccountResult, len(accts))
	busy := make([]bool, len(accts))
	for start := 0; start < len(accts); start += batch {
		if ctx.Err() != nil {
			break
		}
		end := start + batch
		if end > len(accts) {
			end = len(accts)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				res, err := c.syncAccount(ctx, &accts[i], limit, cycle)
				if errors.Is(err, ErrAlreadySyncing) {
					busy[i] = true
					return nil
				}
				results[i] = res
				if cycle == CycleDeep && c.prefetcher != nil && res != nil && res.FoldersOK > 0 {
					c.prefetch(ctx, &accts[i])
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := range accts {
		if busy[i] {
			summary.Busy++
			continue
		}
		if results[i] != nil {
			summary.Accounts = append(summary.Accounts, *results[i])
			summary.Synced += results[i].Synced
		}
	}
}

func (c *Coordinator) prefetch(ctx context.Context, acct *types.Account) {
	if _, err := c.prefetcher.Prefetch(ctx, acct.ID); err != nil {
		c.logger.WithError(err).WithField("account", acct.Name).Warn("Body prefetch failed")
	}
}

// SyncAccount syncs one account now, regardless of earlier auth failures
func (c *Coordinator) SyncAccount(ctx context.Context, accountID int64, limit int, cycle Cycle) (*AccountResult, error) {
	acct, err := c.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return c.syncAccount(ctx, acct, limit, cycle)
}

func (c *Coordinator) syncAccount(ctx context.Context, acct *types.Account, limit int, cycle Cycle) (*AccountResult, error) {
	if !c.registry.begin(acct) {
		return nil, ErrAlreadySyncing
	}

	run := &types.SyncRun{
		RunID:     uuid.NewString(),
		AccountID: acct.ID,
		Cycle:     string(cycle),
		StartedAt: c.now(),
	}
	logger := c.logger.WithFields(logrus.Fields{
		"account": acct.Name,
		"cycle":   cycle,
		"run_id":  run.RunID,
	})

	var (
		errs       []string
		authErr    error
		authFailed bool
	)
	defer func() {
		if run.FinishedAt.IsZero() {
			// a folder sync panicked
			run.FinishedAt = c.now()
			run.Error = "sync aborted"
		}
		c.registry.finish(acct, run.FinishedAt, run.Error, authFailed, run.FoldersOK > 0)
	}()

	for _, folder := range c.folders.SyncFolders(acct.Provider) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err().Error())
			run.FoldersFailed++
			break
		}
		res, err := c.syncer.Sync(ctx, acct, folder, limit)
		run.Synced += res.Synced
		run.Total += res.Total
		if err != nil {
			run.FoldersFailed++
			errs = append(errs, fmt.Sprintf("%s: %v", folder, err))
			if email.IsAuthError(err) {
				// the remaining folders would be rejected the same way
				authErr = err
				break
			}
			continue
		}
		run.FoldersOK++
	}

	run.FinishedAt = c.now()
	run.Error = strings.Join(errs, "; ")
	authFailed = authErr != nil && !acct.IsOAuth()

	if err := c.logs.InsertSyncRun(context.WithoutCancel(ctx), run); err != nil {
		logger.WithError(err).Error("Failed to write sync log")
	}

	result := &AccountResult{
		RunID:         run.RunID,
		AccountID:     acct.ID,
		Account:       acct.Name,
		Synced:        run.Synced,
		Total:         run.Total,
		FoldersOK:     run.FoldersOK,
		FoldersFailed: run.FoldersFailed,
		Error:         run.Error,
	}

	fields := logrus.Fields{
		"synced":         run.Synced,
		"folders_ok":     run.FoldersOK,
		"folders_failed": run.FoldersFailed,
		"duration":       run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	}
	switch {
	case authFailed:
		c.metrics.AccountSync(string(cycle), "auth_failed")
		logger.WithFields(fields).WithError(authErr).Error("Credentials rejected, account paused until updated")
		return result, authErr
	case run.FoldersFailed > 0:
		c.metrics.AccountSync(string(cycle), "error")
		logger.WithFields(fields).Warn("Account synced with errors")
		return result, fmt.Errorf("%d folder(s) failed: %s", run.FoldersFailed, run.Error)
	default:
		c.metrics.AccountSync(string(cycle), "ok")
		logger.WithFields(fields).Info("Account synced")
		return result, nil
	}
}

// Status returns the state of every active account, idle for ones that
// were never synced
func (c *Coordinator) Status(ctx context.Context) ([]AccountState, error) {
	accts, err := c.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]AccountState, 0, len(accts))
	for _, a := range accts {
		st, ok := c.registry.Get(a.ID)
		if !ok {
			st = AccountState{AccountID: a.ID, Name: a.Name, Email: a.Email, Status: StatusIdle}
		}
		out = append(out, st)
	}
	return out, nil
}
