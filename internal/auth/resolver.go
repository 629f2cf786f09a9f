package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/brandon/mailsync/internal/metrics"
	"github.com/brandon/mailsync/pkg/types"
)

// ErrTokenUnavailable is returned when an OAuth account has no usable
// access token and no refresh token to obtain one
var ErrTokenUnavailable = errors.New("oauth token unavailable")

// DefaultSkew is how long before expiry a token is refreshed
const DefaultSkew = 5 * time.Minute

// Credential is what the IMAP session authenticates with
type Credential struct {
	Username    string
	Password    string
	AccessToken string
	ExpiresAt   time.Time
}

// IsOAuth reports whether the credential is a bearer token
func (c *Credential) IsOAuth() bool {
	return c.AccessToken != ""
}

// SASL returns the XOAUTH2 client for bearer credentials, nil for passwords
func (c *Credential) SASL() sasl.Client {
	if !c.IsOAuth() {
		return nil
	}
	return NewXOAuth2Client(c.Username, c.AccessToken)
}

// TokenStore persists OAuth token sets
type TokenStore interface {
	GetToken(ctx context.Context, id int64) (*types.OAuthToken, error)
	UpdateToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
}

// ProviderSource looks up provider adapters by id
type ProviderSource interface {
	Get(id string) (Provider, error)
}

// Resolver turns accounts into ready-to-use credentials, refreshing OAuth
// tokens that are about to expire
type Resolver struct {
	tokens    TokenStore
	providers ProviderSource
	skew      time.Duration
	now       func() time.Time
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	flights   singleflight.Group
	mu        sync.Mutex
	gens      map[int64]uint64
}

// NewResolver creates a credential resolver
func NewResolver(tokens TokenStore, providers ProviderSource, skew time.Duration, logger *logrus.Logger, m *metrics.Metrics) *Resolver {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Resolver{
		tokens:    tokens,
		providers: providers,
		skew:      skew,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
		gens:      make(map[int64]uint64),
	}
}

// SetClock overrides the wall clock, primarily for tests
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve returns the credential for an account. OAuth tokens expiring
// within the skew window are refreshed first.
func (r *Resolver) Resolve(ctx context.Context, acct *types.Account) (*Credential, error) {
	if !acct.IsOAuth() {
		if acct.Password == "" {
			return nil, fmt.Errorf("account %s has no password", acct.Name)
		}
		return &Credential{Username: acct.LoginName(), Password: acct.Password}, nil
	}

	tok, err := r.tokens.GetToken(ctx, *acct.OAuthAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if r.fresh(tok) {
		return r.credential(acct, tok), nil
	}
	return r.refresh(ctx, acct, false)
}

// Refresh forces a token refresh regardless of the stored expiry. Used once
// after the server rejected a token.
func (r *Resolver) Refresh(ctx context.Context, acct *types.Account) (*Credential, error) {
	if !acct.IsOAuth() {
		return nil, fmt.Errorf("account %s does not use oauth", acct.Name)
	}
	return r.refresh(ctx, acct, true)
}

func (r *Resolver) fresh(tok *types.OAuthToken) bool {
	return tok.AccessToken != "" && !tok.ExpiresAt.IsZero() && tok.ExpiresAt.After(r.now().Add(r.skew))
}

func (r *Resolver) credential(acct *types.Account, tok *types.OAuthToken) *Credential {
	return &Credential{
		Username:    acct.LoginName(),
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt,
	}
}

type refreshResult struct {
	tok       *types.OAuthToken
	refreshed bool
}

// refresh runs at most one refresh per OAuth account at a time; concurrent
// callers share the flight's token. A forced caller reuses any refresh that
// completed after it started waiting instead of calling the provider again.
func (r *Resolver) refresh(ctx context.Context, acct *types.Account, force bool) (*Credential, error) {
	id := *acct.OAuthAccountID
	key := strconv.FormatInt(id, 10)

	for {
		gen := r.generation(id)
		v, err, _ := r.flights.Do(key, func() (interface{}, error) {
			return r.refreshOnce(ctx, acct, id, force, gen)
		})
		if err != nil {
			return nil, err
		}
		res := v.(*refreshResult)
		// joined a flight that found the token fresh; the rejected token
		// still needs replacing
		if force && !res.refreshed && r.generation(id) == gen {
			continue
		}
		return r.credential(acct, res.tok), nil
	}
}

func (r *Resolver) refreshOnce(ctx context.Context, acct *types.Account, id int64, force bool, gen uint64) (*refreshResult, error) {
	tok, err := r.tokens.GetToken(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if force && r.generation(id) != gen {
		return &refreshResult{tok: tok, refreshed: true}, nil
	}
	if !force && r.fresh(tok) {
		return &refreshResult{tok: tok}, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("oauth account %d: %w", id, ErrTokenUnavailable)
	}

	provider, err := r.providers.Get(tok.Provider)
	if err != nil {
		return nil, err
	}

	logger := r.logger.WithFields(logrus.Fields{
		"account":  acct.Name,
		"provider": tok.Provider,
		"forced":   force,
	})
	logger.Info("Refreshing OAuth token")

	newTok, err := provider.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		r.metrics.TokenRefresh(tok.Provider, "error")
		logger.WithError(err).Warn("Token refresh failed")
		return nil, err
	}
	r.metrics.TokenRefresh(tok.Provider, "ok")

	refreshToken := ""
	if newTok.RefreshToken != "" && newTok.RefreshToken != tok.RefreshToken {
		refreshToken = newTok.RefreshToken
	}
	if err := r.tokens.UpdateToken(ctx, id, newTok.AccessToken, refreshToken, newTok.Expiry); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}
	r.bump(id)

	updated := *tok
	updated.AccessToken = newTok.AccessToken
	updated.ExpiresAt = newTok.Expiry
	if refreshToken != "" {
		updated.RefreshToken = refreshToken
	}
	return &refreshResult{tok: &updated, refreshed: true}, nil
}

// generation counts completed refreshes of one OAuth account
func (r *Resolver) generation(id int64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[id]
}

func (r *Resolver) bump(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[id]++
}
