package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/mailsync/internal/cache"
)

// searchEmailsTool searches cached emails
type searchEmailsTool struct {
	svc Service
}

// Name returns the tool name
func (t *searchEmailsTool) Name() string {
	return "search_emails"
}

// Description returns the tool description
func (t *searchEmailsTool) Description() string {
	return "Search cached emails by free text and filters (account, folder, sender, recipient, subject, flags, date range). Returns hits with folder, account and date facets."
}

// InputSchema returns the JSON schema for tool inputs
func (t *searchEmailsTool) InputSchema() map[string]interface{} {
	limit := prop("integer", "Optional: Result limit (default: 100, max: 1000)")
	limit["minimum"] = 1
	limit["maximum"] = 1000
	return objectSchema(map[string]interface{}{
		"query":           prop("string", "Optional: Full-text query over subject, sender, snippet and cached body"),
		"user_id":         prop("string", "Optional: Restrict to this user's accounts"),
		"account_name":    prop("string", "Optional: Filter by specific account"),
		"folder":          prop("string", "Optional: Filter by folder name or server path"),
		"sender":          prop("string", "Optional: Filter by sender email/name"),
		"recipient":       prop("string", "Optional: Filter by recipient email"),
		"subject":         prop("string", "Optional: Filter by subject (substring match)"),
		"has_attachments": prop("boolean", "Optional: Only emails with (or without) attachments"),
		"read":            prop("boolean", "Optional: Only read (or unread) emails"),
		"starred":         prop("boolean", "Optional: Only starred (or unstarred) emails"),
		"date_from":       prop("string", "Optional: Start date (ISO 8601 format)"),
		"date_to":         prop("string", "Optional: End date (ISO 8601 format)"),
		"limit":           limit,
		"offset":          prop("integer", "Optional: Number of hits to skip"),
	})
}

// Execute executes the tool
func (t *searchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	opts := cache.SearchOptions{
		Query:   stringParam(params, "query"),
		Folder:  stringParam(params, "folder"),
		From:    stringParam(params, "sender"),
		To:      stringParam(params, "recipient"),
		Subject: stringParam(params, "subject"),
	}

	if name := stringParam(params, "account_name"); name != "" {
		id, err := t.svc.AccountID(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("unknown account: %s", name)
		}
		opts.AccountID = id
	}

	var err error
	if opts.HasAttachments, err = boolParam(params, "has_attachments"); err != nil {
		return nil, err
	}
	if opts.Read, err = boolParam(params, "read"); err != nil {
		return nil, err
	}
	if opts.Starred, err = boolParam(params, "starred"); err != nil {
		return nil, err
	}
	if opts.DateFrom, err = timeParam(params, "date_from"); err != nil {
		return nil, err
	}
	if opts.DateTo, err = timeParam(params, "date_to"); err != nil {
		return nil, err
	}

	limit, _, err := intParam(params, "limit")
	if err != nil {
		return nil, err
	}
	offset, _, err := intParam(params, "offset")
	if err != nil {
		return nil, err
	}
	opts.Limit, opts.Offset = int(limit), int(offset)

	res, err := t.svc.Search(ctx, stringParam(params, "user_id"), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	hits := make([]map[string]interface{}, len(res.Results))
	for i, e := range res.Results {
		hits[i] = map[string]interface{}{
			"id":              e.ID,
			"account_name":    e.AccountName,
			"folder":          e.FolderName,
			"subject":         e.Subject,
			"sender_name":     e.SenderName,
			"sender_email":    e.SenderEmail,
			"date":            e.Date.Format(time.RFC3339),
			"snippet":         e.Snippet,
			"thread_id":       e.ThreadID,
			"has_attachments": e.HasAttachments,
			"read":            e.Read,
			"starred":         e.Starred,
		}
		if opts.Query != "" {
			hits[i]["score"] = e.Score
		}
	}

	return map[string]interface{}{
		"results": hits,
		"total":   res.Total,
		"facets":  res.Facets,
	}, nil
}

// suggestionsTool offers typeahead completions
type suggestionsTool struct {
	svc Service
}

func (t *suggestionsTool) Name() string { return "search_suggestions" }

func (t *suggestionsTool) Description() string {
	return "Suggest sender addresses, subjects and recipients starting with a prefix (at least 2 characters)"
}

func (t *suggestionsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"prefix":  prop("string", "Text typed so far"),
		"user_id": prop("string", "Optional: Restrict to this user's accounts"),
	}, "prefix")
}

func (t *suggestionsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.svc.Suggestions(ctx, stringParam(params, "user_id"), stringParam(params, "prefix"))
}

// popularSearchesTool lists a user's frequent queries
type popularSearchesTool struct {
	svc Service
}

func (t *popularSearchesTool) Name() string { return "popular_searches" }

func (t *popularSearchesTool) Description() string {
	return "List a user's most frequent search queries of the last 30 days"
}

func (t *popularSearchesTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"user_id": prop("string", "User whose searches are ranked"),
	}, "user_id")
}

func (t *popularSearchesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	userID := stringParam(params, "user_id")
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	return t.svc.PopularSearches(ctx, userID)
}
