package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func TestUpsertAccountKeepsUpdatedAtWhenUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedAccount(t, s, "work", "u1")

	first, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, testNow.Unix(), first.UpdatedAt.Unix())

	later := testNow.Add(time.Hour)
	s.SetClock(func() time.Time { return later })

	acc := *first
	_, err = s.UpsertAccount(ctx, &acc)
	require.NoError(t, err)
	same, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, first.UpdatedAt, same.UpdatedAt)

	acc.Password = "rotated"
	_, err = s.UpsertAccount(ctx, &acc)
	require.NoError(t, err)
	changed, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, later.Unix(), changed.UpdatedAt.Unix())
	require.Equal(t, "rotated", changed.Password)
}

func TestListAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "a", "u1")
	seedAccount(t, s, "b", "u2")
	_, err := s.UpsertAccount(ctx, &types.Account{Name: "off", UserID: "u1", IMAPHost: "h", IMAPPort: 993})
	require.NoError(t, err)

	all, err := s.ListActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	mine, err := s.ListAccountsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "a", mine[0].Name)
}

func TestGetAccountNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAccount(context.Background(), 42)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestTokenRoundTripKeepsRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveToken(ctx, &types.OAuthToken{
		Provider:     "google",
		Email:        "me@gmail.com",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateToken(ctx, id, "a2", "", testNow.Add(2*time.Hour)))
	tok, err := s.GetToken(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "a2", tok.AccessToken)
	require.Equal(t, "r1", tok.RefreshToken)
	require.Equal(t, testNow.Add(2*time.Hour).Unix(), tok.ExpiresAt.Unix())

	require.NoError(t, s.UpdateToken(ctx, id, "a3", "r2", testNow.Add(3*time.Hour)))
	tok, err = s.GetToken(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "r2", tok.RefreshToken)

	err = s.UpdateToken(ctx, id+100, "x", "", testNow)
	require.True(t, errors.Is(err, ErrNotFound))

	found, err := s.TokenID(ctx, "google", "me@gmail.com")
	require.NoError(t, err)
	require.Equal(t, id, found)
	_, err = s.TokenID(ctx, "yahoo", "me@gmail.com")
	require.True(t, errors.Is(err, ErrNotFound))
}
