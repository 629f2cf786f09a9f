package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/brandon/mailsync/internal/config"
)

// Full mailbox access is the only scope Gmail accepts for IMAP XOAUTH2
const gmailIMAPScope = "https://mail.google.com/"

func init() {
	register("google", newGoogle)
}

type googleProvider struct {
	oauthProvider
	apiEndpoint string
}

func newGoogle(client config.OAuthClient, redirectURL string) Provider {
	return &googleProvider{
		oauthProvider: oauthProvider{
			id: "google",
			conf: &oauth2.Config{
				ClientID:     client.ClientID,
				ClientSecret: client.ClientSecret,
				RedirectURL:  redirectURL,
				Endpoint:     endpointWithOverrides(google.Endpoint, client.AuthURL, client.TokenURL),
				Scopes: []string{
					gmailIMAPScope,
					googleoauth.UserinfoEmailScope,
					googleoauth.UserinfoProfileScope,
				},
			},
			pkce: true,
			// Google only returns a refresh token on forced consent
			authParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "consent")},
		},
		apiEndpoint: client.UserInfoURL,
	}
}

// UserInfo uses the Google OAuth2 API client
func (p *googleProvider) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if p.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.apiEndpoint))
	}
	svc, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create oauth2 service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: failed to fetch userinfo: %w", err)
	}
	return &UserInfo{Email: info.Email, Name: info.Name}, nil
}
