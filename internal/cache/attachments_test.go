package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func TestAttachmentPathSharing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	accID := seedAccount(t, s, "work", "u1")
	f := seedFolder(t, s, accID, "INBOX")
	first := seedEmail(t, s, accID, f.ID, 1, "one", testNow)
	second := seedEmail(t, s, accID, f.ID, 2, "two", testNow)

	_, err := s.FindPathByChecksum(ctx, "abc")
	require.True(t, errors.Is(err, ErrNotFound))

	soon := testNow.Add(time.Hour)
	later := testNow.Add(48 * time.Hour)
	require.NoError(t, s.UpsertAttachment(ctx, &types.Attachment{
		EmailID: first, Checksum: "abc", Filename: "a.pdf", Size: 3, StoragePath: "2025-03-10/abc_a.pdf", ExpiresAt: &soon,
	}))
	path, err := s.FindPathByChecksum(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "2025-03-10/abc_a.pdf", path)

	require.NoError(t, s.UpsertAttachment(ctx, &types.Attachment{
		EmailID: second, Checksum: "abc", Filename: "copy.pdf", Size: 3, StoragePath: path, ExpiresAt: &later,
	}))
	// idempotent re-extract
	require.NoError(t, s.UpsertAttachment(ctx, &types.Attachment{
		EmailID: second, Checksum: "abc", Filename: "copy.pdf", Size: 3, StoragePath: path, ExpiresAt: &later,
	}))

	atts, err := s.ListAttachments(ctx, second)
	require.NoError(t, err)
	require.Len(t, atts, 1)

	check := testNow.Add(2 * time.Hour)
	expired, err := s.ExpiredAttachments(ctx, check)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, first, expired[0].EmailID)

	inUse, err := s.PathInUse(ctx, path, expired[0].ID, check)
	require.NoError(t, err)
	require.True(t, inUse)

	require.NoError(t, s.ClearAttachmentPath(ctx, expired[0].ID))
	expired, err = s.ExpiredAttachments(ctx, check)
	require.NoError(t, err)
	require.Empty(t, expired)
}
