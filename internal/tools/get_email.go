package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// getEmailTool retrieves a full email by ID
type getEmailTool struct {
	svc    Service
	logger *logrus.Logger
}

// Name returns the tool name
func (t *getEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *getEmailTool) Description() string {
	return "Retrieve a full email by ID. The body comes from the cache when fresh, otherwise it is fetched from the server and cached."
}

// InputSchema returns the JSON schema for tool inputs
func (t *getEmailTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"email_id": prop("integer", "Email ID (from search results)"),
	}, "email_id")
}

// Execute executes the tool
func (t *getEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, ok, err := intParam(params, "email_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("email_id is required")
	}

	hdr, body, err := t.svc.GetEmail(ctx, emailID)
	if hdr == nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	result := map[string]interface{}{
		"id":              hdr.ID,
		"account_id":      hdr.AccountID,
		"account_name":    hdr.AccountName,
		"folder":          hdr.FolderName,
		"folder_path":     hdr.FolderPath,
		"uid":             hdr.UID,
		"message_id":      hdr.MessageID,
		"thread_id":       hdr.ThreadID,
		"subject":         hdr.Subject,
		"sender_name":     hdr.SenderName,
		"sender_email":    hdr.SenderEmail,
		"recipients":      hdr.Recipients,
		"date":            hdr.Date.Format(time.RFC3339),
		"flags":           hdr.Flags,
		"has_attachments": hdr.HasAttachments,
		"snippet":         hdr.Snippet,
		"cached_at":       hdr.CachedAt.Format(time.RFC3339),
	}

	// the header is still useful when the server is unreachable
	if err != nil {
		t.logger.WithError(err).WithField("email_id", emailID).Warn("Could not load email body")
		result["body_error"] = err.Error()
		return result, nil
	}
	result["body_text"] = body.Text
	result["body_html"] = body.HTML
	result["attachments"] = body.Attachments
	result["from_cache"] = body.FromCache
	return result, nil
}
