// Package bodycache fetches full message bodies on demand and keeps them,
// compressed and with a TTL, next to the cached headers.
package bodycache

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/metrics"
	"github.com/brandon/mailsync/pkg/types"
)

// Defaults applied when Config leaves a field zero
const (
	DefaultBodyTTL       = 7 * 24 * time.Hour
	DefaultAttachmentTTL = 30 * 24 * time.Hour
	DefaultPrefetchCount = 20
	DefaultPrefetchDelay = time.Second
)

// Store is the part of the cache the body cache reads and writes
type Store interface {
	GetEmail(ctx context.Context, id int64) (*types.Email, error)
	GetAccount(ctx context.Context, id int64) (*types.Account, error)
	SaveBody(ctx context.Context, emailID int64, text string, compressed []byte, expiresAt time.Time) error
	RecentWithoutBody(ctx context.Context, accountID int64, perFolder int) ([]int64, error)
	UpsertAttachment(ctx context.Context, a *types.Attachment) error
	FindPathByChecksum(ctx context.Context, checksum string) (string, error)
	ListAttachments(ctx context.Context, emailID int64) ([]types.Attachment, error)
}

// Config tunes the body cache
type Config struct {
	AttachmentDir string
	BodyTTL       time.Duration
	AttachmentTTL time.Duration
	PrefetchCount int
	PrefetchDelay time.Duration
}

// Body is a decoded message body with its extracted attachments
type Body struct {
	EmailID     int64              `json:"email_id"`
	Text        string             `json:"text"`
	HTML        string             `json:"html,omitempty"`
	Attachments []types.Attachment `json:"attachments"`
	// FromCache is set when no server round trip was needed
	FromCache bool `json:"from_cache"`
}

// Cache serves bodies from the store, fetching from IMAP on a miss
type Cache struct {
	store   Store
	dialer  email.Dialer
	creds   email.CredentialSource
	logger  *logrus.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// New creates a body cache
func New(store Store, dialer email.Dialer, creds email.CredentialSource, cfg Config, logger *logrus.Logger, m *metrics.Metrics) *Cache {
	if cfg.BodyTTL <= 0 {
		cfg.BodyTTL = DefaultBodyTTL
	}
	if cfg.AttachmentTTL <= 0 {
		cfg.AttachmentTTL = DefaultAttachmentTTL
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = DefaultPrefetchCount
	}
	if cfg.PrefetchDelay < 0 {
		cfg.PrefetchDelay = 0
	}
	return &Cache{
		store:   store,
		dialer:  dialer,
		creds:   creds,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock overrides the wall clock
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// FetchBody returns the body of a cached email. An unexpired cached body is
// served without touching the network.
func (c *Cache) FetchBody(ctx context.Context, emailID int64) (*Body, error) {
	e, err := c.store.GetEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}
	logger := c.logger.WithFields(logrus.Fields{
		"account": e.AccountName,
		"folder":  e.FolderName,
		"uid":     e.UID,
	})

	if e.HasCachedBody(c.now()) {
		p, err := decompress(e.BodyCompressed)
		if err == nil {
			atts, err := c.store.ListAttachments(ctx, emailID)
			if err != nil {
				return nil, err
			}
			c.metrics.BodyLookup("hit")
			return &Body{EmailID: emailID, Text: p.Text, HTML: p.HTML, Attachments: atts, FromCache: true}, nil
		}
		c.metrics.BodyLookup("corrupt")
		logger.WithError(err).Warn("Discarding unreadable cached body")
	} else {
		c.metrics.BodyLookup("miss")
	}

	raw, err := c.fetchRaw(ctx, e)
	if err != nil {
		return nil, err
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, &email.ItemError{UID: e.UID, Err: fmt.Errorf("failed to parse message: %w", err)}
	}
	for _, perr := range env.Errors {
		logger.WithField("severe", perr.Severe).Debug(perr.Error())
	}

	p := payload{Text: env.Text, HTML: env.HTML}
	compressed, err := compress(p)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveBody(ctx, emailID, p.Text, compressed, c.now().Add(c.cfg.BodyTTL)); err != nil {
		return nil, err
	}

	atts, err := c.saveAttachments(ctx, e, env)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"bytes":       len(raw),
		"attachments": len(atts),
	}).Debug("Body cached")
	return &Body{EmailID: emailID, Text: p.Text, HTML: p.HTML, Attachments: atts}, nil
}

// fetchRaw downloads the message source from the folder it was synced from
func (c *Cache) fetchRaw(ctx context.Context, e *types.Email) ([]byte, error) {
	acct, err := c.store.GetAccount(ctx, e.AccountID)
	if err != nil {
		return nil, err
	}
	if e.FolderPath == "" {
		return nil, fmt.Errorf("folder %s of email %d was never resolved: %w", e.FolderName, e.ID, email.ErrFolderNotFound)
	}

	var raw []byte
	err = email.WithSession(ctx, c.dialer, c.creds, acct, c.logger, func(sess email.Session) error {
		if _, err := sess.Select(ctx, e.FolderPath, true); err != nil {
			return err
		}
		var ferr error
		raw, ferr = sess.FetchRaw(ctx, e.UID)
		return ferr
	})
	return raw, err
}
