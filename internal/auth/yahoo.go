package auth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/brandon/mailsync/internal/config"
)

func init() {
	register("yahoo", newYahoo)
}

// Yahoo rejects PKCE parameters, so the challenge is never sent
func newYahoo(client config.OAuthClient, redirectURL string) Provider {
	userInfo := client.UserInfoURL
	if userInfo == "" {
		userInfo = "https://api.login.yahoo.com/openid/v1/userinfo"
	}
	return &oauthProvider{
		id: "yahoo",
		conf: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpointWithOverrides(endpoints.Yahoo, client.AuthURL, client.TokenURL),
			Scopes:       []string{"openid", "email", "mail-r"},
		},
		pkce:        false,
		userInfoURL: userInfo,
	}
}
