package auth

import "golang.org/x/oauth2"

// NewVerifier returns a fresh PKCE code verifier
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// Challenge derives the S256 code challenge sent with the authorization request
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
