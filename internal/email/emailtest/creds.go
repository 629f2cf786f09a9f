package emailtest

import (
	"context"
	"errors"
	"sync"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/pkg/types"
)

// Creds hands out fixed credentials. OAuth accounts get Token until a
// forced refresh swaps in Refreshed.
type Creds struct {
	mu        sync.Mutex
	Token     string
	Refreshed string
	refreshes int
}

// Refreshes returns how many forced refreshes were requested
func (c *Creds) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

func (c *Creds) Resolve(_ context.Context, acct *types.Account) (*auth.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acct.IsOAuth() {
		return &auth.Credential{Username: acct.Email, AccessToken: c.Token}, nil
	}
	return &auth.Credential{Username: acct.LoginName(), Password: acct.Password}, nil
}

func (c *Creds) Refresh(_ context.Context, acct *types.Account) (*auth.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	if c.Refreshed == "" {
		return nil, errors.New("invalid_grant")
	}
	c.Token = c.Refreshed
	return &auth.Credential{Username: acct.Email, AccessToken: c.Token}, nil
}
