package types

import (
	"fmt"
	"time"
)

// Security selects how the IMAP connection is protected
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

// Account is a mail account record owned by the account-management side.
// The engine only reads it.
type Account struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	Provider       string    `json:"provider"`
	IMAPHost       string    `json:"imap_host"`
	IMAPPort       int       `json:"imap_port"`
	IMAPSecurity   Security  `json:"imap_security"`
	Username       string    `json:"username"`
	Password       string    `json:"-"`
	OAuthAccountID *int64    `json:"oauth_account_id,omitempty"`
	Active         bool      `json:"active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsOAuth reports whether the account authenticates with an OAuth bearer token
func (a *Account) IsOAuth() bool {
	return a.OAuthAccountID != nil
}

// Addr returns host:port of the IMAP server
func (a *Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.IMAPHost, a.IMAPPort)
}

// LoginName returns the name used to authenticate, falling back to the address
func (a *Account) LoginName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}

// OAuthToken is the stored token set for one OAuth account
type OAuthToken struct {
	ID           int64     `json:"id"`
	Provider     string    `json:"provider"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
