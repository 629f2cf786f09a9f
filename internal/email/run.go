package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/pkg/types"
)

// CredentialSource resolves and force-refreshes account credentials
type CredentialSource interface {
	Resolve(ctx context.Context, acct *types.Account) (*auth.Credential, error)
	Refresh(ctx context.Context, acct *types.Account) (*auth.Credential, error)
}

// WithSession resolves credentials, opens a session and hands it to fn.
// When the server rejects an OAuth token, the token is refreshed exactly
// once and fn runs again on a fresh session. The session is always logged out.
func WithSession(ctx context.Context, dialer Dialer, creds CredentialSource, acct *types.Account, logger *logrus.Logger, fn func(Session) error) error {
	cred, err := creds.Resolve(ctx, acct)
	if err != nil {
		if errors.Is(err, auth.ErrTokenUnavailable) {
			return &AuthError{Account: acct.Name, Err: err}
		}
		return fmt.Errorf("failed to resolve credentials: %w", err)
	}

	err = runSession(ctx, dialer, acct, cred, logger, fn)
	if err == nil || !IsAuthError(err) || !acct.IsOAuth() {
		return err
	}

	logger.WithField("account", acct.Name).Info("Token rejected, refreshing and retrying once")
	cred, rerr := creds.Refresh(ctx, acct)
	if rerr != nil {
		return &AuthError{Account: acct.Name, Err: rerr}
	}
	return runSession(ctx, dialer, acct, cred, logger, fn)
}

func runSession(ctx context.Context, dialer Dialer, acct *types.Account, cred *auth.Credential, logger *logrus.Logger, fn func(Session) error) error {
	sess, err := dialer.Dial(ctx, acct, cred)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			logger.WithError(err).WithField("account", acct.Name).Debug("Logout failed")
		}
	}()
	return fn(sess)
}
