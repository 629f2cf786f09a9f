package types

import "time"

// Email represents a cached email header row, optionally with its body
type Email struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	AccountName    string     `json:"account_name"`
	FolderID       int64      `json:"folder_id"`
	FolderName     string     `json:"folder_name"`
	FolderPath     string     `json:"folder_path"`
	UID            uint32     `json:"uid"`
	MessageID      string     `json:"message_id"`
	Subject        string     `json:"subject"`
	SenderName     string     `json:"sender_name"`
	SenderEmail    string     `json:"sender_email"`
	Recipients     []string   `json:"recipients"`
	Date           time.Time  `json:"date"`
	Flags          Flags      `json:"flags"`
	HasAttachments bool       `json:"has_attachments"`
	ThreadID       string     `json:"thread_id"`
	Snippet        string     `json:"snippet"`
	BodyText       string     `json:"body_text,omitempty"`
	BodyCompressed []byte     `json:"-"`
	BodyExpiresAt  *time.Time `json:"body_expires_at,omitempty"`
	CachedAt       time.Time  `json:"cached_at"`
}

// HasCachedBody reports whether a compressed body is present and not yet expired at now.
func (e *Email) HasCachedBody(now time.Time) bool {
	return len(e.BodyCompressed) > 0 && e.BodyExpiresAt != nil && e.BodyExpiresAt.After(now)
}

// Flags holds the mailbox state of a message as booleans
type Flags struct {
	Read     bool `json:"read"`
	Starred  bool `json:"starred"`
	Archived bool `json:"archived"`
	Spam     bool `json:"spam"`
	Trash    bool `json:"trash"`
	Draft    bool `json:"draft"`
	Snoozed  bool `json:"snoozed"`
}

// EmailSummary represents a summary of an email (for search results)
type EmailSummary struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	AccountName    string    `json:"account_name"`
	FolderName     string    `json:"folder_name"`
	FolderPath     string    `json:"folder_path"`
	Subject        string    `json:"subject"`
	SenderName     string    `json:"sender_name"`
	SenderEmail    string    `json:"sender_email"`
	Date           time.Time `json:"date"`
	Snippet        string    `json:"snippet"`
	ThreadID       string    `json:"thread_id"`
	HasAttachments bool      `json:"has_attachments"`
	Read           bool      `json:"read"`
	Starred        bool      `json:"starred"`
	Score          float64   `json:"score,omitempty"`
}

// Folder represents an email folder/mailbox together with its sync checkpoint
type Folder struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	AccountName    string     `json:"account_name"`
	Name           string     `json:"name"`
	Path           string     `json:"path"`
	MessageCount   int        `json:"message_count"`
	Unseen         int        `json:"unseen"`
	UIDValidity    uint32     `json:"uid_validity"`
	UIDNext        uint32     `json:"uid_next"`
	LastUIDSynced  uint32     `json:"last_uid_synced"`
	LastSynced     *time.Time `json:"last_synced,omitempty"`
	SyncInProgress bool       `json:"sync_in_progress"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ErrorAt        *time.Time `json:"error_at,omitempty"`
}

// Attachment is the metadata row of an attachment extracted from a cached body.
// StoragePath is empty once the file has been evicted.
type Attachment struct {
	ID          int64      `json:"id"`
	EmailID     int64      `json:"email_id"`
	Checksum    string     `json:"checksum"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
	StoragePath string     `json:"storage_path,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}
