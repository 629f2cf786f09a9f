package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/pkg/types"
)

// PreviewBytes is how much of the text section is fetched for snippets
const PreviewBytes = 2048

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 60 * time.Second
)

// IMAPDialer connects to real IMAP servers
type IMAPDialer struct {
	logger    *logrus.Logger
	tlsConfig *tls.Config
}

// NewIMAPDialer creates a dialer. tlsConfig may be nil.
func NewIMAPDialer(logger *logrus.Logger, tlsConfig *tls.Config) *IMAPDialer {
	return &IMAPDialer{logger: logger, tlsConfig: tlsConfig}
}

// ctxDialer adapts a context to the dialer interface go-imap expects
type ctxDialer struct {
	ctx context.Context
	d   *net.Dialer
}

func (c ctxDialer) Dial(network, addr string) (net.Conn, error) {
	return c.d.DialContext(c.ctx, network, addr)
}

// Dial connects, negotiates TLS and authenticates. Rejected credentials
// come back as AuthError, transport trouble as NetworkError.
func (d *IMAPDialer) Dial(ctx context.Context, acct *types.Account, cred *auth.Credential) (Session, error) {
	tlsConfig := &tls.Config{ServerName: acct.IMAPHost, MinVersion: tls.VersionTLS12}
	if d.tlsConfig != nil {
		tlsConfig = d.tlsConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = acct.IMAPHost
		}
	}
	dialer := ctxDialer{ctx: ctx, d: &net.Dialer{Timeout: dialTimeout}}

	var (
		c   *client.Client
		err error
	)
	plain := acct.IMAPSecurity == types.SecurityNone || acct.IMAPSecurity == types.SecurityStartTLS
	if plain {
		c, err = client.DialWithDialer(dialer, acct.Addr())
	} else {
		c, err = client.DialWithDialerTLS(dialer, acct.Addr(), tlsConfig)
	}
	if err != nil {
		return nil, &NetworkError{Op: "dial", Err: err}
	}
	c.Timeout = commandTimeout

	s := &imapSession{client: c, account: acct.Name, logger: d.logger}
	done := s.guard(ctx)
	defer done()

	if plain {
		// upgrade whenever offered; credentials only cross a plaintext
		// connection when the account explicitly allows it
		ok, err := c.SupportStartTLS()
		if err != nil {
			_ = c.Terminate()
			return nil, s.fail(ctx, "capability", err)
		}
		switch {
		case ok:
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Terminate()
				return nil, s.fail(ctx, "starttls", err)
			}
		case acct.IMAPSecurity != types.SecurityNone:
			_ = c.Terminate()
			return nil, fmt.Errorf("%s: %w", acct.IMAPHost, ErrStartTLSUnavailable)
		}
	}

	if cred.IsOAuth() {
		err = c.Authenticate(cred.SASL())
	} else {
		err = c.Login(cred.Username, cred.Password)
	}
	if err != nil {
		_ = c.Terminate()
		if ctx.Err() != nil || transportFailure(err) {
			return nil, s.fail(ctx, "login", err)
		}
		return nil, &AuthError{Account: acct.Name, Err: err}
	}

	d.logger.WithFields(logrus.Fields{
		"account": acct.Name,
		"host":    acct.IMAPHost,
		"oauth":   cred.IsOAuth(),
	}).Debug("Connected to IMAP server")
	return s, nil
}

type imapSession struct {
	client  *client.Client
	account string
	logger  *logrus.Logger
}

// guard terminates the connection if ctx ends before the returned func is called
func (s *imapSession) guard(ctx context.Context) func() {
	stop := context.AfterFunc(ctx, func() {
		_ = s.client.Terminate()
	})
	return func() { stop() }
}

func (s *imapSession) fail(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return &NetworkError{Op: op, Err: ctx.Err()}
	}
	return wrapNetwork(op, err)
}

func (s *imapSession) Status(ctx context.Context, mailbox string) (*MailboxStatus, error) {
	defer s.guard(ctx)()

	items := []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen, imap.StatusUidValidity, imap.StatusUidNext}
	st, err := s.client.Status(mailbox, items)
	if err != nil {
		if ctx.Err() != nil || transportFailure(err) {
			return nil, s.fail(ctx, "status", err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFolderNotFound, mailbox, err)
	}
	return convertStatus(st), nil
}

func (s *imapSession) Select(ctx context.Context, mailbox string, readOnly bool) (*MailboxStatus, error) {
	defer s.guard(ctx)()

	st, err := s.client.Select(mailbox, readOnly)
	if err != nil {
		if ctx.Err() != nil || transportFailure(err) {
			return nil, s.fail(ctx, "select", err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFolderNotFound, mailbox, err)
	}
	return convertStatus(st), nil
}

func (s *imapSession) SearchUIDs(ctx context.Context, since uint32) ([]uint32, error) {
	defer s.guard(ctx)()

	if since == 0 {
		since = 1
	}
	set := new(imap.SeqSet)
	set.AddRange(since, 0)
	criteria := imap.NewSearchCriteria()
	criteria.Uid = set

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, s.fail(ctx, "uid search", err)
	}
	return uids, nil
}

func (s *imapSession) FetchHeaders(ctx context.Context, uids []uint32, fn func(*Message) error) error {
	if len(uids) == 0 {
		return nil
	}
	defer s.guard(ctx)()

	set := new(imap.SeqSet)
	set.AddNum(uids...)

	refs := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier, Fields: []string{"References"}},
		Peek:         true,
	}
	preview := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
		Partial:      []int{0, PreviewBytes},
	}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchBodyStructure,
		refs.FetchItem(),
		preview.FetchItem(),
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(set, items, messages)
	}()

	// the channel has to be drained even after fn fails
	var firstErr error
	for msg := range messages {
		if firstErr != nil {
			continue
		}
		if err := fn(s.convertMessage(msg)); err != nil {
			firstErr = err
		}
	}
	if err := <-done; err != nil {
		return s.fail(ctx, "uid fetch", err)
	}
	return firstErr
}

func (s *imapSession) FetchRaw(ctx context.Context, uid uint32) ([]byte, error) {
	defer s.guard(ctx)()

	set := new(imap.SeqSet)
	set.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(set, items, messages)
	}()

	var raw []byte
	for msg := range messages {
		for _, lit := range msg.Body {
			if lit != nil && raw == nil {
				raw = s.readLiteral(lit)
			}
		}
	}
	if err := <-done; err != nil {
		return nil, s.fail(ctx, "uid fetch", err)
	}
	if raw == nil {
		return nil, &ItemError{UID: uid, Err: fmt.Errorf("message not found on server")}
	}
	return raw, nil
}

func (s *imapSession) Logout() error {
	err := s.client.Logout()
	if err != nil && transportFailure(err) {
		return nil
	}
	return err
}

func (s *imapSession) convertMessage(msg *imap.Message) *Message {
	m := &Message{
		UID:       msg.Uid,
		Flags:     msg.Flags,
		Structure: partFromBodyStructure(msg.BodyStructure),
	}

	if env := msg.Envelope; env != nil {
		m.MessageID = strings.TrimSpace(env.MessageId)
		m.InReplyTo = strings.TrimSpace(env.InReplyTo)
		m.Subject = env.Subject
		m.Date = env.Date
		if len(env.From) > 0 {
			m.From = convertAddress(env.From[0])
		}
		for _, a := range env.To {
			m.To = append(m.To, convertAddress(a))
		}
		for _, a := range env.Cc {
			m.Cc = append(m.Cc, convertAddress(a))
		}
	}

	for section, lit := range msg.Body {
		if section == nil || lit == nil {
			continue
		}
		switch section.Specifier {
		case imap.HeaderSpecifier:
			m.References = ParseReferences(s.readLiteral(lit))
		case imap.TextSpecifier:
			m.Preview = s.readLiteral(lit)
		}
	}
	return m
}

func (s *imapSession) readLiteral(lit imap.Literal) []byte {
	b, err := io.ReadAll(lit)
	if err != nil {
		s.logger.WithError(err).WithField("account", s.account).Debug("Short read on IMAP literal")
	}
	return b
}

func convertStatus(st *imap.MailboxStatus) *MailboxStatus {
	return &MailboxStatus{
		Name:        st.Name,
		Messages:    st.Messages,
		Unseen:      st.Unseen,
		UIDValidity: st.UidValidity,
		UIDNext:     st.UidNext,
	}
}

func convertAddress(a *imap.Address) Address {
	if a == nil {
		return Address{}
	}
	return Address{Name: a.PersonalName, Email: strings.ToLower(a.Address())}
}

func partFromBodyStructure(bs *imap.BodyStructure) *Part {
	if bs == nil {
		return nil
	}
	p := &Part{
		Type:        strings.ToLower(bs.MIMEType),
		Subtype:     strings.ToLower(bs.MIMESubType),
		Params:      lowerKeys(bs.Params),
		Encoding:    strings.ToLower(bs.Encoding),
		Disposition: strings.ToLower(bs.Disposition),
		Size:        bs.Size,
	}
	if name := lowerKeys(bs.DispositionParams)["filename"]; name != "" {
		p.Filename = name
	} else {
		p.Filename = bs.Params["name"]
	}
	for _, child := range bs.Parts {
		p.Parts = append(p.Parts, partFromBodyStructure(child))
	}
	return p
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
