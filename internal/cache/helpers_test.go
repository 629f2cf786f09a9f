package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger, _ := test.NewNullLogger()
	c, err := NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("closing test cache: %v", err)
		}
	})

	s := NewStore(c, logger)
	s.SetClock(func() time.Time { return testNow })
	return s
}

func seedAccount(t *testing.T, s *Store, name, userID string) int64 {
	t.Helper()
	id, err := s.UpsertAccount(context.Background(), &types.Account{
		Name:         name,
		UserID:       userID,
		Email:        name + "@example.com",
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPSecurity: types.SecurityTLS,
		Username:     name,
		Password:     "secret",
		Active:       true,
	})
	require.NoError(t, err)
	return id
}

func seedFolder(t *testing.T, s *Store, accountID int64, name string) *types.Folder {
	t.Helper()
	ctx := context.Background()
	f, err := s.BeginFolderSync(ctx, accountID, name)
	require.NoError(t, err)
	require.NoError(t, s.UpdateFolderStatus(ctx, f.ID, name, 0, 0, 1, 1))
	require.NoError(t, s.EndFolderSync(ctx, f.ID))
	return f
}

func seedEmail(t *testing.T, s *Store, accountID, folderID int64, uid uint32, subject string, date time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertHeader(ctx, &types.Email{
		AccountID:   accountID,
		FolderID:    folderID,
		UID:         uid,
		MessageID:   "<" + subject + "@example.com>",
		Subject:     subject,
		SenderName:  "Alice",
		SenderEmail: "alice@example.com",
		Recipients:  []string{"bob@example.com"},
		Date:        date,
	}))
	var id int64
	require.NoError(t, s.cache.DB().Get(&id, "SELECT id FROM emails WHERE folder_id = ? AND uid = ?", folderID, uid))
	return id
}
