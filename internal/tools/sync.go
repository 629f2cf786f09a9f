package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/brandon/mailsync/internal/coordinator"
)

// syncStatusTool reports per-account sync state
type syncStatusTool struct {
	svc Service
}

func (t *syncStatusTool) Name() string { return "sync_status" }

func (t *syncStatusTool) Description() string {
	return "Show the sync status of every account (idle, syncing, error), last sync time, last error and the on-demand queue size"
}

func (t *syncStatusTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}

func (t *syncStatusTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.svc.SyncStatus(ctx)
}

// triggerSyncTool starts an on-demand sync
type triggerSyncTool struct {
	svc Service
}

func (t *triggerSyncTool) Name() string { return "trigger_sync" }

func (t *triggerSyncTool) Description() string {
	return "Sync one account now and wait for it, or queue a sync of every account when account_name is omitted"
}

func (t *triggerSyncTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"account_name": prop("string", "Optional: Account to sync synchronously"),
	})
}

func (t *triggerSyncTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name := stringParam(params, "account_name")
	if name == "" {
		task, err := t.svc.TriggerSync(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to queue sync: %w", err)
		}
		return map[string]interface{}{"queued": true, "task": task.Name}, nil
	}

	res, err := t.svc.SyncAccount(ctx, name, coordinator.CycleManual)
	if errors.Is(err, coordinator.ErrAlreadySyncing) {
		return map[string]interface{}{"account": name, "already_syncing": true}, nil
	}
	if res == nil {
		return nil, fmt.Errorf("failed to sync %s: %w", name, err)
	}
	// folder errors are part of the result, not a tool failure
	return res, nil
}

// syncUserTool queues a sync of one user's accounts
type syncUserTool struct {
	svc Service
}

func (t *syncUserTool) Name() string { return "sync_user_accounts" }

func (t *syncUserTool) Description() string {
	return "Queue a sync of every account belonging to a user, e.g. right after login"
}

func (t *syncUserTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"user_id": prop("string", "User whose accounts are synced"),
	}, "user_id")
}

func (t *syncUserTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	task, err := t.svc.SyncUserAccounts(ctx, stringParam(params, "user_id"))
	if err != nil {
		return nil, fmt.Errorf("failed to queue sync: %w", err)
	}
	return map[string]interface{}{"queued": true, "task": task.Name}, nil
}
