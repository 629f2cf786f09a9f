package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// SeedAccounts writes the configured accounts into the account table.
// Accounts that cannot be resolved are logged and skipped.
func (e *Engine) SeedAccounts(ctx context.Context) (int, error) {
	seeded := 0
	for i := range e.cfg.Accounts {
		ac := &e.cfg.Accounts[i]
		logger := e.logger.WithFields(logrus.Fields{"account": ac.Name, "provider": ac.Provider})

		acct, err := e.accountFromConfig(ctx, ac)
		if err != nil {
			logger.WithError(err).Warn("Skipping account")
			continue
		}
		if _, err := e.store.UpsertAccount(ctx, acct); err != nil {
			return seeded, err
		}
		seeded++
		logger.Debug("Account seeded")
	}

	e.logger.WithFields(logrus.Fields{
		"configured": len(e.cfg.Accounts),
		"seeded":     seeded,
	}).Info("Accounts loaded")
	return seeded, nil
}

// accountFromConfig fills connection settings from the capability table
// and links OAuth accounts to their stored token
func (e *Engine) accountFromConfig(ctx context.Context, ac *config.AccountConfig) (*types.Account, error) {
	capability := e.caps.Get(ac.Provider)
	if ac.Provider == auth.DefaultProvider && ac.Email != "" {
		capability = e.caps.ForEmail(ac.Email)
	}

	acct := &types.Account{
		Name:         ac.Name,
		UserID:       ac.UserID,
		Email:        ac.Email,
		Provider:     capability.ID,
		IMAPHost:     ac.IMAPHost,
		IMAPPort:     ac.IMAPPort,
		IMAPSecurity: types.Security(ac.IMAPSecurity),
		Username:     ac.IMAPUsername,
		Password:     ac.IMAPPassword,
		Active:       true,
	}
	if acct.IMAPHost == "" {
		acct.IMAPHost = capability.IMAP.Host
		acct.IMAPPort = capability.IMAP.Port
		acct.IMAPSecurity = types.Security(capability.IMAP.Security)
	}
	if acct.IMAPHost == "" {
		return nil, fmt.Errorf("no IMAP host configured or known for provider %s", capability.ID)
	}

	if !ac.OAuth {
		return acct, nil
	}
	if !capability.SupportsOAuth {
		return nil, fmt.Errorf("provider %s does not support oauth", capability.ID)
	}
	oauthProvider := capability.OAuthProvider
	if oauthProvider == "" {
		oauthProvider = capability.ID
	}
	id, err := e.store.TokenID(ctx, oauthProvider, ac.Email)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("no stored token for %s, run the authorization flow first", ac.Email)
	}
	if err != nil {
		return nil, err
	}
	acct.OAuthAccountID = &id
	acct.Password = ""
	return acct, nil
}

// Authorization is a started OAuth authorization-code flow
type Authorization struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// BeginAuthorization builds the consent URL of a provider with a fresh
// PKCE verifier. The verifier is needed again to complete the flow.
func (e *Engine) BeginAuthorization(providerID string) (*Authorization, error) {
	p, err := e.providers.Get(providerID)
	if err != nil {
		return nil, err
	}
	verifier := auth.NewVerifier()
	state := uuid.NewString()
	return &Authorization{
		Provider: providerID,
		URL:      p.AuthorizationURL(state, auth.Challenge(verifier)),
		State:    state,
		Verifier: verifier,
	}, nil
}

// CompleteAuthorization exchanges the code, identifies the mailbox owner
// and stores the token set. It returns the stored token.
func (e *Engine) CompleteAuthorization(ctx context.Context, providerID, code, verifier string) (*types.OAuthToken, error) {
	p, err := e.providers.Get(providerID)
	if err != nil {
		return nil, err
	}
	tok, err := p.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, err
	}
	info, err := p.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to identify mailbox: %w", providerID, err)
	}

	stored := &types.OAuthToken{
		Provider:     providerID,
		Email:        info.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if stored.ID, err = e.store.SaveToken(ctx, stored); err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{
		"provider": providerID,
		"email":    info.Email,
	}).Info("OAuth token stored")
	return stored, nil
}
