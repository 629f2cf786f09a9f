// Package emailtest provides an in-memory IMAP server double for tests
package emailtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

// Mailbox is one server-side folder
type Mailbox struct {
	UIDValidity uint32
	messages    map[uint32]*email.Message
	raw         map[uint32][]byte
	nextUID     uint32
}

// Server implements email.Dialer over in-memory mailboxes
type Server struct {
	mu        sync.Mutex
	mailboxes map[string]*Mailbox
	rejected  map[string]bool
	password  string
	statuses  []string

	// FetchErr, when set, fails every header fetch
	FetchErr error
	// FetchDelay is slept before each header fetch
	FetchDelay time.Duration

	Dials      atomic.Int32
	RawFetches atomic.Int32
	Active     atomic.Int32
	PeakOpen   atomic.Int32
}

// NewServer creates an empty server accepting any credential
func NewServer() *Server {
	return &Server{
		mailboxes: make(map[string]*Mailbox),
		rejected:  make(map[string]bool),
	}
}

// StatusCalls returns the mailbox names passed to STATUS or SELECT, in order
func (s *Server) StatusCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

// RequirePassword makes password logins fail unless they match pw
func (s *Server) RequirePassword(pw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = pw
}

// RejectToken makes XOAUTH2 logins with this access token fail
func (s *Server) RejectToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[token] = true
}

// AddMailbox creates a mailbox, replacing any existing one with the same name
func (s *Server) AddMailbox(name string, uidValidity uint32) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := &Mailbox{
		UIDValidity: uidValidity,
		messages:    make(map[uint32]*email.Message),
		raw:         make(map[uint32][]byte),
		nextUID:     1,
	}
	s.mailboxes[name] = mb
	return mb
}

// Append stores a message under the next UID and returns that UID
func (s *Server) Append(mailbox string, m email.Message, raw []byte) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxes[mailbox]
	uid := mb.nextUID
	mb.nextUID++
	m.UID = uid
	if m.Date.IsZero() {
		m.Date = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(uid) * time.Minute)
	}
	if m.MessageID == "" {
		m.MessageID = fmt.Sprintf("<%d.%s@example.com>", uid, mailbox)
	}
	mb.messages[uid] = &m
	mb.raw[uid] = raw
	return uid
}

// Fill appends n plain messages
func (s *Server) Fill(mailbox string, n int) {
	for i := 0; i < n; i++ {
		s.Append(mailbox, email.Message{
			Subject: fmt.Sprintf("message %d", i+1),
			From:    email.Address{Name: "Alice", Email: "alice@example.com"},
			To:      []email.Address{{Email: "bob@example.com"}},
			Preview: []byte(fmt.Sprintf("body of message %d", i+1)),
		}, nil)
	}
}

// Dial opens a session after checking the credential
func (s *Server) Dial(ctx context.Context, acct *types.Account, cred *auth.Credential) (email.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &email.NetworkError{Op: "dial", Err: err}
	}
	s.Dials.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.IsOAuth() && s.rejected[cred.AccessToken] {
		return nil, &email.AuthError{Account: acct.Name, Err: errors.New("AUTHENTICATE failed")}
	}
	if !cred.IsOAuth() && s.password != "" && cred.Password != s.password {
		return nil, &email.AuthError{Account: acct.Name, Err: errors.New("LOGIN failed")}
	}

	n := s.Active.Add(1)
	for {
		p := s.PeakOpen.Load()
		if n <= p || s.PeakOpen.CompareAndSwap(p, n) {
			break
		}
	}
	return &session{server: s}, nil
}

type session struct {
	server   *Server
	selected string
	closed   bool
}

func (ss *session) mailbox(name string) (*Mailbox, error) {
	mb, ok := ss.server.mailboxes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", email.ErrFolderNotFound, name)
	}
	return mb, nil
}

func (ss *session) Status(ctx context.Context, name string) (*email.MailboxStatus, error) {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	ss.server.statuses = append(ss.server.statuses, name)
	mb, err := ss.mailbox(name)
	if err != nil {
		return nil, err
	}
	var unseen uint32
	for _, m := range mb.messages {
		seen := false
		for _, f := range m.Flags {
			if f == `\Seen` {
				seen = true
			}
		}
		if !seen {
			unseen++
		}
	}
	return &email.MailboxStatus{
		Name:        name,
		Messages:    uint32(len(mb.messages)),
		Unseen:      unseen,
		UIDValidity: mb.UIDValidity,
		UIDNext:     mb.nextUID,
	}, nil
}

func (ss *session) Select(ctx context.Context, name string, readOnly bool) (*email.MailboxStatus, error) {
	st, err := ss.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	ss.selected = name
	return st, nil
}

// SearchUIDs mimics servers that answer "N:*" with the highest UID even
// when it is below N
func (ss *session) SearchUIDs(ctx context.Context, since uint32) ([]uint32, error) {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	mb, err := ss.mailbox(ss.selected)
	if err != nil {
		return nil, err
	}
	var all, out []uint32
	for uid := range mb.messages {
		all = append(all, uid)
		if uid >= since {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) == 0 && len(all) > 0 {
		sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
		out = all[len(all)-1:]
	}
	return out, nil
}

func (ss *session) FetchHeaders(ctx context.Context, uids []uint32, fn func(*email.Message) error) error {
	if d := ss.server.FetchDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return &email.NetworkError{Op: "uid fetch", Err: ctx.Err()}
		}
	}
	if ss.server.FetchErr != nil {
		return ss.server.FetchErr
	}

	ss.server.mu.Lock()
	mb, err := ss.mailbox(ss.selected)
	var msgs []email.Message
	if err == nil {
		for _, uid := range uids {
			if m, ok := mb.messages[uid]; ok {
				msgs = append(msgs, *m)
			}
		}
	}
	ss.server.mu.Unlock()
	if err != nil {
		return err
	}

	for i := range msgs {
		if err := fn(&msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (ss *session) FetchRaw(ctx context.Context, uid uint32) ([]byte, error) {
	ss.server.RawFetches.Add(1)
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	mb, err := ss.mailbox(ss.selected)
	if err != nil {
		return nil, err
	}
	raw, ok := mb.raw[uid]
	if !ok || raw == nil {
		return nil, &email.ItemError{UID: uid, Err: errors.New("message not found on server")}
	}
	return raw, nil
}

func (ss *session) Logout() error {
	if !ss.closed {
		ss.closed = true
		ss.server.Active.Add(-1)
	}
	return nil
}
