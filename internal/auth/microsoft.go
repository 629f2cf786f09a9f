package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/brandon/mailsync/internal/config"
)

var microsoftScopes = []string{
	"https://outlook.office.com/IMAP.AccessAsUser.All",
	"https://outlook.office.com/SMTP.Send",
	"offline_access",
	"openid",
	"email",
	"profile",
}

// defaultTokenLifetime applies when a token response carries no expires_in
const defaultTokenLifetime = time.Hour

func init() {
	register("microsoft", newMicrosoft)
}

type microsoftProvider struct {
	oauthProvider
	httpClient *http.Client
}

func newMicrosoft(client config.OAuthClient, redirectURL string) Provider {
	userInfo := client.UserInfoURL
	if userInfo == "" {
		userInfo = "https://graph.microsoft.com/oidc/userinfo"
	}
	return &microsoftProvider{
		oauthProvider: oauthProvider{
			id: "microsoft",
			conf: &oauth2.Config{
				ClientID:     client.ClientID,
				ClientSecret: client.ClientSecret,
				RedirectURL:  redirectURL,
				Endpoint:     endpointWithOverrides(microsoft.AzureADEndpoint("common"), client.AuthURL, client.TokenURL),
				Scopes:       microsoftScopes,
			},
			pkce:        true,
			userInfoURL: userInfo,
		},
		httpClient: http.DefaultClient,
	}
}

// Refresh posts the refresh grant by hand: Microsoft issues tokens without
// the IMAP/SMTP audience unless the scopes are sent again on every refresh.
func (p *microsoftProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	form := url.Values{
		"client_id":     {p.conf.ClientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {strings.Join(p.conf.Scopes, " ")},
	}
	if p.conf.ClientSecret != "" {
		form.Set("client_secret", p.conf.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.conf.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("microsoft: failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("microsoft: failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		TokenType        string `json:"token_type"`
		ExpiresIn        int64  `json:"expires_in"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("microsoft: failed to decode refresh response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		return nil, fmt.Errorf("microsoft: refresh rejected: %s %s", body.Error, body.ErrorDescription)
	}

	tok := &oauth2.Token{
		AccessToken:  body.AccessToken,
		TokenType:    body.TokenType,
		RefreshToken: body.RefreshToken,
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	lifetime := defaultTokenLifetime
	if body.ExpiresIn > 0 {
		lifetime = time.Duration(body.ExpiresIn) * time.Second
	}
	tok.Expiry = time.Now().Add(lifetime)
	return tok, nil
}
