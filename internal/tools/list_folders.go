package tools

import (
	"context"
	"fmt"
	"time"
)

// listFoldersTool lists synced folders with their checkpoints
type listFoldersTool struct {
	svc Service
}

// Name returns the tool name
func (t *listFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *listFoldersTool) Description() string {
	return "List synced mailboxes/folders with message counts, sync checkpoints and last errors"
}

// InputSchema returns the JSON schema for tool inputs
func (t *listFoldersTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"account_name": prop("string", "Optional: Specific account name, or all accounts if omitted"),
	})
}

// Execute executes the tool
func (t *listFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	folders, err := t.svc.Folders(ctx, stringParam(params, "account_name"))
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	result := make([]map[string]interface{}, len(folders))
	for i, folder := range folders {
		result[i] = map[string]interface{}{
			"id":               folder.ID,
			"account_name":     folder.AccountName,
			"name":             folder.Name,
			"path":             folder.Path,
			"message_count":    folder.MessageCount,
			"unseen":           folder.Unseen,
			"last_uid_synced":  folder.LastUIDSynced,
			"sync_in_progress": folder.SyncInProgress,
		}
		if folder.LastSynced != nil {
			result[i]["last_synced"] = folder.LastSynced.Format(time.RFC3339)
		}
		if folder.ErrorMessage != "" {
			result[i]["error"] = folder.ErrorMessage
		}
	}

	return result, nil
}
