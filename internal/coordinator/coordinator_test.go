package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/testutil"
	"github.com/brandon/mailsync/pkg/types"
)

type fakeSyncer struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	delay  time.Duration
	block  chan struct{}
	active atomic.Int32
	peak   atomic.Int32
	panics atomic.Bool
}

func (f *fakeSyncer) Sync(ctx context.Context, acct *types.Account, folder string, limit int) (email.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, acct.Name+"/"+folder)
	err := f.errs[acct.Name]
	f.mu.Unlock()

	if f.panics.Load() {
		panic("folder sync blew up")
	}
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	time.Sleep(f.delay)
	if err != nil {
		return email.Result{}, err
	}
	return email.Result{Synced: 2, Total: 3}, nil
}

func (f *fakeSyncer) folderCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type folderSet []string

func (f folderSet) SyncFolders(string) []string { return f }

type countingPrefetcher struct{ n atomic.Int32 }

func (p *countingPrefetcher) Prefetch(context.Context, int64) (int, error) {
	p.n.Add(1)
	return 0, nil
}

func newCoordinator(t *testing.T, syncer *fakeSyncer, opts ...Option) (*Coordinator, *cache.Store) {
	t.Helper()
	store := testutil.NewStore(t)
	logger, _ := testutil.Logger()
	opts = append(opts, WithClock(func() time.Time { return testutil.Now }))
	return New(store, store, syncer, folderSet{"INBOX", "SENT"}, logger, opts...), store
}

func TestSyncAccountWalksFolderSetAndLogsRun(t *testing.T) {
	syncer := &fakeSyncer{}
	c, store := newCoordinator(t, syncer)
	acct := testutil.SeedAccount(t, store, "work")
	ctx := context.Background()

	res, err := c.SyncAccount(ctx, acct.ID, 50, CycleManual)
	require.NoError(t, err)
	require.Equal(t, 4, res.Synced)
	require.Equal(t, 6, res.Total)
	require.Equal(t, 2, res.FoldersOK)
	require.Equal(t, []string{"work/INBOX", "work/SENT"}, syncer.folderCalls())

	runs, err := store.RecentSyncRuns(ctx, acct.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, res.RunID, runs[0].RunID)
	require.Equal(t, "manual", runs[0].Cycle)

	st, ok := c.Registry().Get(acct.ID)
	require.True(t, ok)
	require.Equal(t, StatusIdle, st.Status)
	require.NotNil(t, st.LastSync)
}

func TestConcurrentSyncOfSameAccountIsRejected(t *testing.T) {
	syncer := &fakeSyncer{block: make(chan struct{})}
	c, store := newCoordinator(t, syncer)
	acct := testutil.SeedAccount(t, store, "work")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.SyncAccount(ctx, acct.ID, 50, CycleManual)
		done <- err
	}()
	require.Eventually(t, func() bool {
		st, ok := c.Registry().Get(acct.ID)
		return ok && st.Status == StatusSyncing
	}, time.Second, time.Millisecond)

	_, err := c.SyncAccount(ctx, acct.ID, 50, CycleManual)
	require.ErrorIs(t, err, ErrAlreadySyncing)

	close(syncer.block)
	require.NoError(t, <-done)
}

func TestPanickingSyncReleasesAccount(t *testing.T) {
	syncer := &fakeSyncer{}
	syncer.panics.Store(true)
	c, store := newCoordinator(t, syncer)
	acct := testutil.SeedAccount(t, store, "work")
	ctx := context.Background()

	func() {
		defer func() { require.NotNil(t, recover()) }()
		_, _ = c.SyncAccount(ctx, acct.ID, 50, CycleManual)
	}()

	st, ok := c.Registry().Get(acct.ID)
	require.True(t, ok)
	require.Equal(t, StatusError, st.Status)
	require.Equal(t, "sync aborted", st.ErrorMessage)

	syncer.panics.Store(false)
	res, err := c.SyncAccount(ctx, acct.ID, 50, CycleManual)
	require.NoError(t, err)
	require.Equal(t, 2, res.FoldersOK)

	st, _ = c.Registry().Get(acct.ID)
	require.Equal(t, StatusIdle, st.Status)
}

func TestQuickCycleRunsBatchesConcurrently(t *testing.T) {
	syncer := &fakeSyncer{delay: 10 * time.Millisecond}
	c, store := newCoordinator(t, syncer)
	for i := 0; i < 12; i++ {
		testutil.SeedAccount(t, store, fmt.Sprintf("acct%02d", i))
	}

	summary, err := c.SyncAll(context.Background(), CycleQuick, 50)
	require.NoError(t, err)
	require.Len(t, summary.Accounts, 12)
	require.Equal(t, 48, summary.Synced)
	require.LessOrEqual(t, syncer.peak.Load(), int32(DefaultParallelism))
	require.Greater(t, syncer.peak.Load(), int32(1))
}

func TestDeepCycleIsSequentialAndPrefetches(t *testing.T) {
	syncer := &fakeSyncer{delay: 2 * time.Millisecond}
	prefetcher := &countingPrefetcher{}
	c, store := newCoordinator(t, syncer, WithPrefetcher(prefetcher))
	for i := 0; i < 4; i++ {
		testutil.SeedAccount(t, store, fmt.Sprintf("acct%02d", i))
	}

	summary, err := c.SyncAll(context.Background(), CycleDeep, 200)
	require.NoError(t, err)
	require.Len(t, summary.Accounts, 4)
	require.EqualValues(t, 1, syncer.peak.Load())
	require.EqualValues(t, 4, prefetcher.n.Load())
}

func TestRejectedPasswordPausesAccountUntilUpdated(t *testing.T) {
	syncer := &fakeSyncer{errs: map[string]error{
		"work": &email.AuthError{Account: "work", Err: errors.New("LOGIN failed")},
	}}
	c, store := newCoordinator(t, syncer)
	acct := testutil.SeedAccount(t, store, "work")
	testutil.SeedAccount(t, store, "home")
	ctx := context.Background()

	summary, err := c.SyncAll(ctx, CycleQuick, 50)
	require.NoError(t, err)
	require.Len(t, summary.Accounts, 2)
	// the auth failure stops the folder walk
	require.NotContains(t, syncer.folderCalls(), "work/SENT")

	st, _ := c.Registry().Get(acct.ID)
	require.Equal(t, StatusError, st.Status)
	require.True(t, st.AuthFailed)

	summary, err = c.SyncAll(ctx, CycleQuick, 50)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Accounts, 1)

	// fixing the password changes updated_at
	store.SetClock(func() time.Time { return testutil.Now.Add(time.Hour) })
	acct.Password = "new-secret"
	_, err = store.UpsertAccount(ctx, acct)
	require.NoError(t, err)
	delete(syncer.errs, "work")

	summary, err = c.SyncAll(ctx, CycleQuick, 50)
	require.NoError(t, err)
	require.Zero(t, summary.Skipped)
	require.Len(t, summary.Accounts, 2)
	st, _ = c.Registry().Get(acct.ID)
	require.Equal(t, StatusIdle, st.Status)
	require.False(t, st.AuthFailed)
}

func TestRejectedOAuthTokenIsNotPaused(t *testing.T) {
	syncer := &fakeSyncer{errs: map[string]error{
		"me": &email.AuthError{Account: "me", Err: errors.New("invalid_grant")},
	}}
	c, store := newCoordinator(t, syncer)
	testutil.SeedOAuthAccount(t, store, "me", "tok", testutil.Now.Add(time.Hour))
	ctx := context.Background()

	_, err := c.SyncAll(ctx, CycleQuick, 50)
	require.NoError(t, err)
	summary, err := c.SyncAll(ctx, CycleQuick, 50)
	require.NoError(t, err)
	require.Zero(t, summary.Skipped)
}

func TestFolderFailureIsIsolated(t *testing.T) {
	syncer := &fakeSyncer{errs: map[string]error{
		"work": &email.NetworkError{Op: "dial", Err: errors.New("timeout")},
	}}
	c, store := newCoordinator(t, syncer)
	work := testutil.SeedAccount(t, store, "work")
	home := testutil.SeedAccount(t, store, "home")
	ctx := context.Background()

	_, err := c.SyncAccount(ctx, work.ID, 50, CycleManual)
	require.ErrorContains(t, err, "timeout")
	require.Contains(t, syncer.folderCalls(), "work/SENT")

	res, err := c.SyncAccount(ctx, home.ID, 50, CycleManual)
	require.NoError(t, err)
	require.Equal(t, 2, res.FoldersOK)

	states, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
}

func TestStatusListsNeverSyncedAccountsAsIdle(t *testing.T) {
	c, store := newCoordinator(t, &fakeSyncer{})
	testutil.SeedAccount(t, store, "work")

	states, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, StatusIdle, states[0].Status)
	require.Nil(t, states[0].LastSync)
}
