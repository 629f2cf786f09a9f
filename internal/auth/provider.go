// Package auth resolves IMAP credentials for accounts and adapts the OAuth
// flows of the supported mail providers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/oauth2"

	"github.com/brandon/mailsync/internal/config"
)

// ErrUnknownProvider is returned when no adapter is registered or configured for an id
var ErrUnknownProvider = errors.New("unknown oauth provider")

// UserInfo identifies the mailbox owner behind an access token
type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Provider adapts one OAuth identity provider. Quirks of the provider stay
// inside its implementation.
type Provider interface {
	ID() string
	AuthorizationURL(state, pkceChallenge string) string
	Exchange(ctx context.Context, code, pkceVerifier string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

// Builder constructs a provider from its client registration
type Builder func(client config.OAuthClient, redirectURL string) Provider

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{}
)

// register makes a provider adapter available to NewRegistry. Adapters call it from init.
func register(id string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[id] = b
}

// Registry holds the configured provider adapters
type Registry struct {
	providers map[string]Provider
}

// NewRegistry instantiates an adapter for every client with a client ID
// configured. Clients without a dedicated adapter get the generic one.
func NewRegistry(cfg config.AuthConfig) *Registry {
	buildersMu.RLock()
	defer buildersMu.RUnlock()

	r := &Registry{providers: make(map[string]Provider)}
	for id, client := range cfg.Clients {
		if client.ClientID == "" {
			continue
		}
		build, ok := builders[id]
		if !ok {
			build = newGeneric(id)
		}
		redirect := client.RedirectURL
		if redirect == "" {
			redirect = cfg.RedirectURL
		}
		if p := build(client, redirect); p != nil {
			r.providers[id] = p
		}
	}
	return r
}

// Add registers a provider instance directly
func (r *Registry) Add(p Provider) {
	r.providers[p.ID()] = p
}

// Get returns the adapter for id, or the generic adapter when one is
// configured and id has none of its own
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		p, ok = r.providers[GenericProvider]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// IDs lists the configured providers
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
