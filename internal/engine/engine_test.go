package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/coordinator"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/email/emailtest"
	"github.com/brandon/mailsync/internal/testutil"
	"github.com/brandon/mailsync/pkg/types"
)

func testConfig(t *testing.T, accounts ...config.AccountConfig) *config.Config {
	t.Helper()
	return &config.Config{
		CachePath:         ":memory:",
		AttachmentDir:     t.TempDir(),
		SearchResultLimit: 100,
		LogLevel:          "debug",
		Sync: config.SyncConfig{
			QuickInterval:   5 * time.Minute,
			QuickLimit:      50,
			DeepInterval:    time.Hour,
			DeepLimit:       200,
			CleanupSchedule: "@daily",
			Parallelism:     5,
			FetchBatchSize:  10,
			FolderTimeout:   10 * time.Second,
		},
		Cache: config.CacheConfig{
			BodyTTL:       7 * 24 * time.Hour,
			AttachmentTTL: 30 * 24 * time.Hour,
			PrefetchCount: 5,
		},
		Auth:     config.AuthConfig{TokenSkew: 5 * time.Minute},
		Worker:   config.WorkerConfig{Count: 2, QueueSize: 8},
		Accounts: accounts,
	}
}

func workAccount() config.AccountConfig {
	return config.AccountConfig{
		Name:         "work",
		UserID:       "user-1",
		Email:        "me@example.com",
		Provider:     "default",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPSecurity: "tls",
		IMAPUsername: "me",
		IMAPPassword: "secret",
	}
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *emailtest.Server) {
	t.Helper()
	server := emailtest.NewServer()
	server.AddMailbox("INBOX", 1)
	logger, _ := testutil.Logger()

	e, err := New(cfg, logger, WithDialer(server), WithClock(func() time.Time { return testutil.Now }))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Close(ctx); err != nil {
			t.Errorf("closing engine: %v", err)
		}
	})
	return e, server
}

func TestPrepareSeedsConfiguredAccounts(t *testing.T) {
	icloud := config.AccountConfig{
		Name:         "icloud",
		UserID:       "user-1",
		Email:        "me@icloud.com",
		Provider:     "default",
		IMAPSecurity: "tls",
		IMAPUsername: "me@icloud.com",
		IMAPPassword: "pw",
	}
	noToken := config.AccountConfig{
		Name:     "gmail",
		UserID:   "user-1",
		Email:    "me@gmail.com",
		Provider: "google",
		OAuth:    true,
	}
	e, _ := newTestEngine(t, testConfig(t, workAccount(), icloud, noToken))
	ctx := context.Background()

	require.NoError(t, e.Prepare(ctx))

	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.Accounts, 2)
	for _, st := range status.Accounts {
		require.Equal(t, coordinator.StatusIdle, st.Status)
	}
	require.Zero(t, status.QueueSize)

	id, err := e.AccountID(ctx, "icloud")
	require.NoError(t, err)
	acct, err := e.store.GetAccount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "icloud", acct.Provider)
	require.Equal(t, "imap.mail.me.com", acct.IMAPHost)
	require.Equal(t, 993, acct.IMAPPort)
}

func TestPrepareLinksStoredToken(t *testing.T) {
	gmail := config.AccountConfig{
		Name:     "gmail",
		UserID:   "user-1",
		Email:    "me@gmail.com",
		Provider: "google",
		OAuth:    true,
	}
	e, _ := newTestEngine(t, testConfig(t, gmail))
	ctx := context.Background()

	tokID, err := e.store.SaveToken(ctx, &types.OAuthToken{
		Provider:     "google",
		Email:        "me@gmail.com",
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    testutil.Now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, e.Prepare(ctx))

	id, err := e.AccountID(ctx, "gmail")
	require.NoError(t, err)
	acct, err := e.store.GetAccount(ctx, id)
	require.NoError(t, err)
	require.True(t, acct.IsOAuth())
	require.Equal(t, tokID, *acct.OAuthAccountID)
	require.Equal(t, "imap.gmail.com", acct.IMAPHost)
}

func TestPrepareClearsStaleFlags(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(t, workAccount()))
	ctx := context.Background()
	require.NoError(t, e.Prepare(ctx))

	id, err := e.AccountID(ctx, "work")
	require.NoError(t, err)
	_, err = e.store.BeginFolderSync(ctx, id, "INBOX")
	require.NoError(t, err)

	require.NoError(t, e.Prepare(ctx))
	folders, err := e.Folders(ctx, "work")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	require.False(t, folders[0].SyncInProgress)
}

func TestTriggerSyncThenSearch(t *testing.T) {
	e, server := newTestEngine(t, testConfig(t, workAccount()))
	server.Fill("INBOX", 3)
	ctx := context.Background()
	require.NoError(t, e.Prepare(ctx))

	task, err := e.TriggerSync(ctx)
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))

	folders, err := e.Folders(ctx, "work")
	require.NoError(t, err)
	var inbox *types.Folder
	for i := range folders {
		if folders[i].Name == "INBOX" {
			inbox = &folders[i]
		}
	}
	require.NotNil(t, inbox)
	require.EqualValues(t, 3, inbox.LastUIDSynced)

	res, err := e.Search(ctx, "user-1", cache.SearchOptions{Query: "message"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)

	other, err := e.Search(ctx, "user-2", cache.SearchOptions{})
	require.NoError(t, err)
	require.Zero(t, other.Total)

	require.Eventually(t, func() bool { return e.pool.Pending() == 0 }, time.Second, time.Millisecond)
	popular, err := e.PopularSearches(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []types.PopularSearch{{Query: "message", Count: 1}}, popular)

	suggestions, err := e.Suggestions(ctx, "user-1", "al")
	require.NoError(t, err)
	require.Contains(t, suggestions, types.Suggestion{Type: "from", Value: "alice@example.com"})

	runs, err := e.RecentRuns(ctx, "work", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, string(coordinator.CycleManual), runs[0].Cycle)
}

func TestSyncUserAccounts(t *testing.T) {
	e, server := newTestEngine(t, testConfig(t, workAccount()))
	server.Fill("INBOX", 2)
	ctx := context.Background()
	require.NoError(t, e.Prepare(ctx))

	_, err := e.SyncUserAccounts(ctx, "")
	require.Error(t, err)

	task, err := e.SyncUserAccounts(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))

	res, err := e.Search(ctx, "user-1", cache.SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
}

func TestFetchEmailBodyServesCacheOnSecondCall(t *testing.T) {
	e, server := newTestEngine(t, testConfig(t, workAccount()))
	raw := strings.Join([]string{
		"From: Alice <alice@example.com>",
		"To: me@example.com",
		"Subject: Invoice",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Amount due: 42",
		"",
	}, "\r\n")
	server.Append("INBOX", email.Message{
		Subject: "Invoice",
		From:    email.Address{Name: "Alice", Email: "alice@example.com"},
		Preview: []byte("Amount due: 42"),
	}, []byte(raw))
	ctx := context.Background()
	require.NoError(t, e.Prepare(ctx))

	summary, err := e.SyncNow(ctx, coordinator.CycleQuick)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Synced)

	res, err := e.Search(ctx, "user-1", cache.SearchOptions{Subject: "Invoice"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	id := res.Results[0].ID

	dials := server.Dials.Load()
	hdr, body, err := e.GetEmail(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Invoice", hdr.Subject)
	require.False(t, body.FromCache)
	require.Contains(t, body.Text, "Amount due: 42")
	require.Equal(t, dials+1, server.Dials.Load())

	again, err := e.FetchEmailBody(ctx, id)
	require.NoError(t, err)
	require.True(t, again.FromCache)
	require.Equal(t, body.Text, again.Text)
	require.Equal(t, dials+1, server.Dials.Load())
}

func TestSyncAccountByName(t *testing.T) {
	e, server := newTestEngine(t, testConfig(t, workAccount()))
	server.Fill("INBOX", 4)
	ctx := context.Background()
	require.NoError(t, e.Prepare(ctx))

	res, err := e.SyncAccount(ctx, "work", coordinator.CycleDeep)
	require.NoError(t, err)
	require.Equal(t, 4, res.Synced)

	_, err = e.SyncAccount(ctx, "nobody", coordinator.CycleQuick)
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStartAndClose(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(t, workAccount()))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	report, err := e.Cleanup(ctx)
	require.NoError(t, err)
	require.Zero(t, report.BodiesExpired)
}

func TestBeginAuthorization(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.RedirectURL = "http://localhost/cb"
	cfg.Auth.Clients = map[string]config.OAuthClient{"google": {ClientID: "cid"}}
	e, _ := newTestEngine(t, cfg)

	a, err := e.BeginAuthorization("google")
	require.NoError(t, err)
	require.Contains(t, a.URL, "code_challenge="+auth.Challenge(a.Verifier))
	require.Contains(t, a.URL, "state="+a.State)

	_, err = e.BeginAuthorization("yahoo")
	require.ErrorIs(t, err, auth.ErrUnknownProvider)
}
