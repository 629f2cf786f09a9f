package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func TestSearchWithoutQueryOrdersByDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	accID := seedAccount(t, s, "work", "u1")
	f := seedFolder(t, s, accID, "INBOX")

	seedEmail(t, s, accID, f.ID, 1, "oldest", testNow.Add(-48*time.Hour))
	seedEmail(t, s, accID, f.ID, 2, "newest", testNow.Add(-time.Hour))
	seedEmail(t, s, accID, f.ID, 3, "middle", testNow.Add(-24*time.Hour))

	res, err := s.Search(ctx, SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Len(t, res.Results, 3)
	require.Equal(t, "newest", res.Results[0].Subject)
	require.Equal(t, "middle", res.Results[1].Subject)
	require.Equal(t, "oldest", res.Results[2].Subject)
}

func TestSearchRanksSubjectAboveBody(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	accID := seedAccount(t, s, "work", "u1")
	f := seedFolder(t, s, accID, "INBOX")

	bodyOnly := seedEmail(t, s, accID, f.ID, 1, "monthly update", testNow.Add(-time.Hour))
	require.NoError(t, s.SaveBody(ctx, bodyOnly, "please find the invoice attached", []byte{1}, testNow.Add(time.Hour)))
	seedEmail(t, s, accID, f.ID, 2, "Invoice 2025-03", testNow.Add(-48*time.Hour))
	seedEmail(t, s, accID, f.ID, 3, "lunch", testNow)

	res, err := s.Search(ctx, SearchOptions{Query: "invoice"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, "Invoice 2025-03", res.Results[0].Subject)
	require.Equal(t, "monthly update", res.Results[1].Subject)
	require.Greater(t, res.Results[0].Score, res.Results[1].Score)
}

func TestSearchFiltersAndFacets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	work := seedAccount(t, s, "work", "u1")
	home := seedAccount(t, s, "home", "u1")
	other := seedAccount(t, s, "other", "u2")
	workInbox := seedFolder(t, s, work, "INBOX")
	workSent := seedFolder(t, s, work, "SENT")
	homeInbox := seedFolder(t, s, home, "INBOX")
	otherInbox := seedFolder(t, s, other, "INBOX")

	seedEmail(t, s, work, workInbox.ID, 1, "a", testNow.Add(-time.Hour))
	seedEmail(t, s, work, workInbox.ID, 2, "b", testNow.Add(-40*24*time.Hour))
	seedEmail(t, s, work, workSent.ID, 1, "c", testNow.Add(-time.Hour))
	seedEmail(t, s, home, homeInbox.ID, 1, "d", testNow.Add(-2*24*time.Hour))
	seedEmail(t, s, other, otherInbox.ID, 1, "e", testNow)

	require.NoError(t, s.UpsertHeader(ctx, &types.Email{
		AccountID: work, FolderID: workInbox.ID, UID: 1, Date: testNow, Flags: types.Flags{Read: true},
	}))

	res, err := s.Search(ctx, SearchOptions{UserID: "u1", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Len(t, res.Results, 1)
	require.Equal(t, []types.FacetCount{{Value: "INBOX", Count: 3}, {Value: "SENT", Count: 1}}, res.Facets.Folders)
	require.Equal(t, []types.FacetCount{{Value: "work", Count: 3}, {Value: "home", Count: 1}}, res.Facets.Accounts)
	require.Equal(t, []types.FacetCount{{Value: "2025-03-10", Count: 2}, {Value: "2025-03-08", Count: 1}}, res.Facets.Dates)

	read := true
	res, err = s.Search(ctx, SearchOptions{UserID: "u1", Read: &read})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "a", res.Results[0].Subject)

	res, err = s.Search(ctx, SearchOptions{AccountID: work, Folder: "SENT"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "c", res.Results[0].Subject)

	from := testNow.Add(-3 * 24 * time.Hour)
	res, err = s.Search(ctx, SearchOptions{UserID: "u1", DateFrom: &from, To: "bob@"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
}

func TestSearchQueryIsNotParsedAsFTSSyntax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	accID := seedAccount(t, s, "work", "u1")
	f := seedFolder(t, s, accID, "INBOX")
	seedEmail(t, s, accID, f.ID, 1, "report", testNow)

	_, err := s.Search(ctx, SearchOptions{Query: `"unbalanced AND (`})
	require.NoError(t, err)
}

func TestSuggestions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	accID := seedAccount(t, s, "work", "u1")
	f := seedFolder(t, s, accID, "INBOX")
	seedEmail(t, s, accID, f.ID, 1, "almanac", testNow)
	seedEmail(t, s, accID, f.ID, 2, "alpha", testNow)

	none, err := s.Suggestions(ctx, "u1", "a", 10)
	require.NoError(t, err)
	require.Empty(t, none)

	got, err := s.Suggestions(ctx, "u1", "al", 10)
	require.NoError(t, err)
	require.Equal(t, []types.Suggestion{
		{Type: "from", Value: "alice@example.com"},
		{Type: "subject", Value: "almanac"},
		{Type: "subject", Value: "alpha"},
	}, got)

	got, err = s.Suggestions(ctx, "u1", "bo", 10)
	require.NoError(t, err)
	require.Equal(t, []types.Suggestion{{Type: "recipient", Value: "bob@example.com"}}, got)

	got, err = s.Suggestions(ctx, "someone-else", "al", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPopularSearches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetClock(func() time.Time { return testNow.Add(-40 * 24 * time.Hour) })
	for i := 0; i < 5; i++ {
		require.NoError(t, s.LogSearch(ctx, "u1", "ancient", 1))
	}
	s.SetClock(func() time.Time { return testNow })
	require.NoError(t, s.LogSearch(ctx, "u1", "Invoice", 3))
	require.NoError(t, s.LogSearch(ctx, "u1", " invoice ", 3))
	require.NoError(t, s.LogSearch(ctx, "u1", "receipt", 0))
	require.NoError(t, s.LogSearch(ctx, "u2", "receipt", 0))
	require.NoError(t, s.LogSearch(ctx, "u1", "   ", 0))

	got, err := s.PopularSearches(ctx, "u1", 10)
	require.NoError(t, err)
	require.Equal(t, []types.PopularSearch{
		{Query: "invoice", Count: 2},
		{Query: "receipt", Count: 1},
	}, got)

	n, err := s.PruneLogs(ctx, testNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}
