package email

import (
	"context"
	"time"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/pkg/types"
)

// MailboxStatus is the server's view of one mailbox
type MailboxStatus struct {
	Name        string
	Messages    uint32
	Unseen      uint32
	UIDValidity uint32
	UIDNext     uint32
}

// Address is one parsed envelope address
type Address struct {
	Name  string
	Email string
}

// Message is the header-level data fetched for one message during a sync
type Message struct {
	UID        uint32
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	From       Address
	To         []Address
	Cc         []Address
	Date       time.Time
	Flags      []string
	Structure  *Part
	// Preview holds the leading bytes of the message text section
	Preview []byte
}

// Session is an authenticated connection to one account's IMAP server.
// All operations honour ctx; a cancelled ctx terminates the connection.
type Session interface {
	// Status reads mailbox counters without selecting it. It returns
	// ErrFolderNotFound when the mailbox does not exist.
	Status(ctx context.Context, mailbox string) (*MailboxStatus, error)
	Select(ctx context.Context, mailbox string, readOnly bool) (*MailboxStatus, error)
	// SearchUIDs returns the UIDs at or above since in the selected mailbox
	SearchUIDs(ctx context.Context, since uint32) ([]uint32, error)
	// FetchHeaders calls fn for each fetched message of the selected mailbox
	FetchHeaders(ctx context.Context, uids []uint32, fn func(*Message) error) error
	// FetchRaw returns the full RFC 5322 source of one message
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)
	Logout() error
}

// Dialer opens authenticated sessions
type Dialer interface {
	Dial(ctx context.Context, acct *types.Account, cred *auth.Credential) (Session, error)
}
