package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/bodycache"
	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/coordinator"
	"github.com/brandon/mailsync/pkg/types"
)

type fakeService struct {
	Service

	searchUser string
	searchOpts cache.SearchOptions
	body       *bodycache.Body
	bodyErr    error
	syncErr    error
}

func (f *fakeService) AccountID(_ context.Context, name string) (int64, error) {
	if name == "work" {
		return 7, nil
	}
	return 0, cache.ErrNotFound
}

func (f *fakeService) Search(_ context.Context, userID string, opts cache.SearchOptions) (*types.SearchResult, error) {
	f.searchUser, f.searchOpts = userID, opts
	return &types.SearchResult{
		Results: []types.EmailSummary{{ID: 1, Subject: "Invoice", Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Score: 2.5}},
		Total:   1,
	}, nil
}

func (f *fakeService) GetEmail(_ context.Context, id int64) (*types.Email, *bodycache.Body, error) {
	if id != 1 {
		return nil, nil, cache.ErrNotFound
	}
	return &types.Email{ID: 1, Subject: "Invoice"}, f.body, f.bodyErr
}

func (f *fakeService) SyncAccount(_ context.Context, name string, _ coordinator.Cycle) (*coordinator.AccountResult, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &coordinator.AccountResult{Account: name, Synced: 3}, nil
}

func newRegistry(svc Service) *Registry {
	logger, _ := test.NewNullLogger()
	return NewRegistry(svc, logger)
}

func execute(t *testing.T, reg *Registry, name string, params map[string]interface{}) (interface{}, error) {
	t.Helper()
	tool, ok := reg.GetTool(name)
	require.True(t, ok, name)
	return tool.Execute(context.Background(), params)
}

func TestRegistryListsEveryTool(t *testing.T) {
	reg := newRegistry(&fakeService{})
	var names []string
	for _, def := range reg.GetToolDefinitions() {
		names = append(names, def["name"].(string))
		require.NotEmpty(t, def["description"])
		require.Equal(t, "object", def["inputSchema"].(map[string]interface{})["type"])
	}
	require.Equal(t, []string{
		"get_email", "list_folders", "popular_searches", "search_emails",
		"search_suggestions", "sync_status", "sync_user_accounts", "trigger_sync",
	}, names)
}

func TestSearchMapsFilters(t *testing.T) {
	svc := &fakeService{}
	reg := newRegistry(svc)

	out, err := execute(t, reg, "search_emails", map[string]interface{}{
		"query":        "invoice",
		"user_id":      "u1",
		"account_name": "work",
		"sender":       "alice",
		"read":         false,
		"date_from":    "2025-01-01",
		"limit":        float64(20),
	})
	require.NoError(t, err)

	require.Equal(t, "u1", svc.searchUser)
	require.Equal(t, "invoice", svc.searchOpts.Query)
	require.EqualValues(t, 7, svc.searchOpts.AccountID)
	require.Equal(t, "alice", svc.searchOpts.From)
	require.NotNil(t, svc.searchOpts.Read)
	require.False(t, *svc.searchOpts.Read)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *svc.searchOpts.DateFrom)
	require.Equal(t, 20, svc.searchOpts.Limit)

	m := out.(map[string]interface{})
	require.Equal(t, 1, m["total"])
	hits := m["results"].([]map[string]interface{})
	require.Equal(t, "Invoice", hits[0]["subject"])
	require.Equal(t, 2.5, hits[0]["score"])
}

func TestSearchRejectsBadInput(t *testing.T) {
	reg := newRegistry(&fakeService{})

	_, err := execute(t, reg, "search_emails", map[string]interface{}{"account_name": "nope"})
	require.ErrorContains(t, err, "unknown account")

	_, err = execute(t, reg, "search_emails", map[string]interface{}{"date_to": "yesterday"})
	require.ErrorContains(t, err, "date_to")

	_, err = execute(t, reg, "search_emails", map[string]interface{}{"starred": "maybe"})
	require.ErrorContains(t, err, "starred")
}

func TestGetEmailKeepsHeaderWhenBodyFails(t *testing.T) {
	svc := &fakeService{bodyErr: errors.New("connection refused")}
	reg := newRegistry(svc)

	out, err := execute(t, reg, "get_email", map[string]interface{}{"email_id": "1"})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	require.Equal(t, "Invoice", m["subject"])
	require.Equal(t, "connection refused", m["body_error"])

	svc.bodyErr = nil
	svc.body = &bodycache.Body{Text: "hello", FromCache: true}
	out, err = execute(t, reg, "get_email", map[string]interface{}{"email_id": float64(1)})
	require.NoError(t, err)
	require.Equal(t, "hello", out.(map[string]interface{})["body_text"])

	_, err = execute(t, reg, "get_email", map[string]interface{}{"email_id": float64(2)})
	require.ErrorIs(t, err, cache.ErrNotFound)

	_, err = execute(t, reg, "get_email", map[string]interface{}{})
	require.ErrorContains(t, err, "email_id is required")
}

func TestTriggerSyncForOneAccount(t *testing.T) {
	svc := &fakeService{}
	reg := newRegistry(svc)

	out, err := execute(t, reg, "trigger_sync", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)
	require.Equal(t, 3, out.(*coordinator.AccountResult).Synced)

	svc.syncErr = coordinator.ErrAlreadySyncing
	out, err = execute(t, reg, "trigger_sync", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)
	require.Equal(t, true, out.(map[string]interface{})["already_syncing"])
}

func TestPopularSearchesNeedsUser(t *testing.T) {
	reg := newRegistry(&fakeService{})
	_, err := execute(t, reg, "popular_searches", map[string]interface{}{})
	require.ErrorContains(t, err, "user_id")
}
