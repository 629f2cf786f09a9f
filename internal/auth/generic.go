package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/brandon/mailsync/internal/config"
)

// GenericProvider is the OpenID adapter used for any provider without a
// dedicated one. Registry.Get falls back to it.
const GenericProvider = "generic"

var genericScopes = []string{"openid", "email", "offline_access"}

func init() {
	register(GenericProvider, newGeneric(GenericProvider))
}

// newGeneric builds a standard authorization-code adapter with PKCE from
// the configured endpoints. Both the authorization and token endpoint must
// be configured.
func newGeneric(id string) Builder {
	return func(client config.OAuthClient, redirectURL string) Provider {
		if client.AuthURL == "" || client.TokenURL == "" {
			return nil
		}
		scopes := client.Scopes
		if len(scopes) == 0 {
			scopes = genericScopes
		}
		return &oauthProvider{
			id: id,
			conf: &oauth2.Config{
				ClientID:     client.ClientID,
				ClientSecret: client.ClientSecret,
				RedirectURL:  redirectURL,
				Endpoint:     oauth2.Endpoint{AuthURL: client.AuthURL, TokenURL: client.TokenURL},
				Scopes:       scopes,
			},
			pkce:        true,
			userInfoURL: client.UserInfoURL,
		}
	}
}

// oauthProvider is the standard authorization-code adapter the concrete
// providers are built from
type oauthProvider struct {
	id          string
	conf        *oauth2.Config
	pkce        bool
	authParams  []oauth2.AuthCodeOption
	userInfoURL string
}

func (p *oauthProvider) ID() string { return p.id }

// AuthorizationURL builds the consent URL. The PKCE challenge is ignored by
// providers that do not support it.
func (p *oauthProvider) AuthorizationURL(state, pkceChallenge string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOffline}, p.authParams...)
	if p.pkce && pkceChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", pkceChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return p.conf.AuthCodeURL(state, opts...)
}

func (p *oauthProvider) Exchange(ctx context.Context, code, pkceVerifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if p.pkce && pkceVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(pkceVerifier))
	}
	tok, err := p.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to exchange code: %w", p.id, err)
	}
	return tok, nil
}

// Refresh trades a refresh token for a new access token. When the provider
// does not rotate the refresh token the old one is carried over.
func (p *oauthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	tok, err := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to refresh token: %w", p.id, err)
	}
	return tok, nil
}

func (p *oauthProvider) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if p.userInfoURL == "" {
		return nil, fmt.Errorf("%s: no userinfo endpoint configured", p.id)
	}
	return openIDUserInfo(ctx, p.userInfoURL, accessToken)
}

// openIDUserInfo reads the standard OpenID Connect userinfo document
func openIDUserInfo(ctx context.Context, url, accessToken string) (*UserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %s", resp.Status)
	}

	var doc struct {
		Email             string `json:"email"`
		Mail              string `json:"mail"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}

	info := &UserInfo{Email: doc.Email, Name: doc.Name}
	if info.Email == "" {
		info.Email = doc.Mail
	}
	if info.Email == "" {
		info.Email = doc.PreferredUsername
	}
	return info, nil
}

func endpointWithOverrides(base oauth2.Endpoint, authURL, tokenURL string) oauth2.Endpoint {
	if authURL != "" {
		base.AuthURL = authURL
	}
	if tokenURL != "" {
		base.TokenURL = tokenURL
	}
	return base
}
