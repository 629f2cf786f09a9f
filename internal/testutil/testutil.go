// Package testutil builds in-memory fixtures shared by package tests
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/pkg/types"
)

// Now is the fixed wall clock used by fixtures
var Now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// Logger returns a logger that discards output but records entries
func Logger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

// NewStore opens an in-memory cache store pinned to Now
func NewStore(t *testing.T) *cache.Store {
	t.Helper()

	logger, _ := Logger()
	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("closing test cache: %v", err)
		}
	})

	s := cache.NewStore(c, logger)
	s.SetClock(func() time.Time { return Now })
	return s
}

// SeedAccount stores a password account and returns it with its id set
func SeedAccount(t *testing.T, s *cache.Store, name string) *types.Account {
	t.Helper()
	acct := &types.Account{
		Name:         name,
		UserID:       "user-1",
		Email:        name + "@example.com",
		Provider:     "default",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPSecurity: types.SecurityTLS,
		Username:     name,
		Password:     "secret",
		Active:       true,
	}
	id, err := s.UpsertAccount(context.Background(), acct)
	require.NoError(t, err)
	stored, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return stored
}

// SeedOAuthAccount stores a token set and an account that uses it
func SeedOAuthAccount(t *testing.T, s *cache.Store, name, accessToken string, expiresAt time.Time) *types.Account {
	t.Helper()
	ctx := context.Background()
	tokID, err := s.SaveToken(ctx, &types.OAuthToken{
		Provider:     "google",
		Email:        name + "@gmail.com",
		AccessToken:  accessToken,
		RefreshToken: "refresh-" + name,
		ExpiresAt:    expiresAt,
	})
	require.NoError(t, err)

	acct := &types.Account{
		Name:           name,
		UserID:         "user-1",
		Email:          name + "@gmail.com",
		Provider:       "google",
		IMAPHost:       "imap.gmail.com",
		IMAPPort:       993,
		IMAPSecurity:   types.SecurityTLS,
		OAuthAccountID: &tokID,
		Active:         true,
	}
	id, err := s.UpsertAccount(ctx, acct)
	require.NoError(t, err)
	stored, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	return stored
}

// SeedEmail stores a header in the named folder and returns its id
func SeedEmail(t *testing.T, s *cache.Store, acct *types.Account, folder string, uid uint32, subject string) int64 {
	t.Helper()
	ctx := context.Background()
	f, err := s.BeginFolderSync(ctx, acct.ID, folder)
	require.NoError(t, err)
	require.NoError(t, s.UpdateFolderStatus(ctx, f.ID, folder, 0, 0, 1, 1))
	require.NoError(t, s.EndFolderSync(ctx, f.ID))

	require.NoError(t, s.UpsertHeader(ctx, &types.Email{
		AccountID:   acct.ID,
		FolderID:    f.ID,
		UID:         uid,
		MessageID:   "<" + subject + "@example.com>",
		Subject:     subject,
		SenderName:  "Alice",
		SenderEmail: "alice@example.com",
		Recipients:  []string{"bob@example.com"},
		Date:        Now.Add(-time.Duration(uid) * time.Hour),
	}))
	res, err := s.Search(ctx, cache.SearchOptions{AccountID: acct.ID, FolderID: f.ID, Subject: subject})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	return res.Results[0].ID
}
