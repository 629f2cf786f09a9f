package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the wall clock used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

type accountRow struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	UserID         string         `db:"user_id"`
	Email          string         `db:"email"`
	Provider       string         `db:"provider"`
	IMAPHost       string         `db:"imap_host"`
	IMAPPort       int            `db:"imap_port"`
	IMAPSecurity   string         `db:"imap_security"`
	Username       string         `db:"username"`
	Password       sql.NullString `db:"password"`
	OAuthAccountID sql.NullInt64  `db:"oauth_account_id"`
	Active         bool           `db:"active"`
	UpdatedAt      int64          `db:"updated_at"`
}

func (r *accountRow) toAccount() types.Account {
	acc := types.Account{
		ID:           r.ID,
		Name:         r.Name,
		UserID:       r.UserID,
		Email:        r.Email,
		Provider:     r.Provider,
		IMAPHost:     r.IMAPHost,
		IMAPPort:     r.IMAPPort,
		IMAPSecurity: types.Security(r.IMAPSecurity),
		Username:     r.Username,
		Password:     r.Password.String,
		Active:       r.Active,
		UpdatedAt:    fromUnix(r.UpdatedAt),
	}
	if r.OAuthAccountID.Valid {
		id := r.OAuthAccountID.Int64
		acc.OAuthAccountID = &id
	}
	return acc
}

const accountColumns = `id, name, user_id, email, provider, imap_host, imap_port, imap_security,
	username, password, oauth_account_id, active, updated_at`

// UpsertAccount upserts an account in the cache. updated_at only moves when
// connection or credential fields actually change.
func (s *Store) UpsertAccount(ctx context.Context, acc *types.Account) (int64, error) {
	query := `
		INSERT INTO accounts (name, user_id, email, provider, imap_host, imap_port, imap_security,
			username, password, oauth_account_id, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			updated_at = CASE WHEN
				accounts.imap_host IS NOT excluded.imap_host OR
				accounts.imap_port IS NOT excluded.imap_port OR
				accounts.imap_security IS NOT excluded.imap_security OR
				accounts.username IS NOT excluded.username OR
				accounts.password IS NOT excluded.password OR
				accounts.oauth_account_id IS NOT excluded.oauth_account_id
			THEN excluded.updated_at ELSE accounts.updated_at END,
			user_id = excluded.user_id,
			email = excluded.email,
			provider = excluded.provider,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_security = excluded.imap_security,
			username = excluded.username,
			password = excluded.password,
			oauth_account_id = excluded.oauth_account_id,
			active = excluded.active
	`
	var password sql.NullString
	if acc.Password != "" {
		password = sql.NullString{String: acc.Password, Valid: true}
	}
	var oauthID sql.NullInt64
	if acc.OAuthAccountID != nil {
		oauthID = sql.NullInt64{Int64: *acc.OAuthAccountID, Valid: true}
	}
	security := acc.IMAPSecurity
	if security == "" {
		security = types.SecurityTLS
	}
	provider := acc.Provider
	if provider == "" {
		provider = "default"
	}

	_, err := s.cache.DB().ExecContext(ctx, query, acc.Name, acc.UserID, acc.Email, provider,
		acc.IMAPHost, acc.IMAPPort, string(security), acc.Username, password, oauthID, acc.Active, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}

	return s.GetAccountID(ctx, acc.Name)
}

// GetAccountID returns the account ID by name
func (s *Store) GetAccountID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.cache.DB().GetContext(ctx, &id, "SELECT id FROM accounts WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get account id: %w", err)
	}
	return id, nil
}

// GetAccount returns one account by ID
func (s *Store) GetAccount(ctx context.Context, id int64) (*types.Account, error) {
	var row accountRow
	err := s.cache.DB().GetContext(ctx, &row, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	acc := row.toAccount()
	return &acc, nil
}

// ListActiveAccounts returns every active account ordered by ID
func (s *Store) ListActiveAccounts(ctx context.Context) ([]types.Account, error) {
	return s.listAccounts(ctx, "SELECT "+accountColumns+" FROM accounts WHERE active = 1 ORDER BY id")
}

// ListAccountsByUser returns the active accounts owned by a user
func (s *Store) ListAccountsByUser(ctx context.Context, userID string) ([]types.Account, error) {
	return s.listAccounts(ctx, "SELECT "+accountColumns+" FROM accounts WHERE active = 1 AND user_id = ? ORDER BY id", userID)
}

func (s *Store) listAccounts(ctx context.Context, query string, args ...interface{}) ([]types.Account, error) {
	var rows []accountRow
	if err := s.cache.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts := make([]types.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toAccount())
	}
	return accounts, nil
}

type tokenRow struct {
	ID           int64  `db:"id"`
	Provider     string `db:"provider"`
	Email        string `db:"email"`
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	ExpiresAt    int64  `db:"expires_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

// GetToken returns the stored OAuth token set by its OAuth-account ID
func (s *Store) GetToken(ctx context.Context, id int64) (*types.OAuthToken, error) {
	var row tokenRow
	err := s.cache.DB().GetContext(ctx, &row, `
		SELECT id, provider, email, access_token, refresh_token, expires_at, updated_at
		FROM oauth_tokens WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("oauth account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &types.OAuthToken{
		ID:           row.ID,
		Provider:     row.Provider,
		Email:        row.Email,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    fromUnix(row.ExpiresAt),
		UpdatedAt:    fromUnix(row.UpdatedAt),
	}, nil
}

// SaveToken inserts or replaces the token set of (provider, email) and returns its ID.
// An empty refresh token never overwrites a stored one.
func (s *Store) SaveToken(ctx context.Context, tok *types.OAuthToken) (int64, error) {
	_, err := s.cache.DB().ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, email, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, email) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN oauth_tokens.refresh_token ELSE excluded.refresh_token END,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		tok.Provider, tok.Email, tok.AccessToken, tok.RefreshToken, unix(tok.ExpiresAt), s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to save token: %w", err)
	}

	var id int64
	if err := s.cache.DB().GetContext(ctx, &id,
		"SELECT id FROM oauth_tokens WHERE provider = ? AND email = ?", tok.Provider, tok.Email); err != nil {
		return 0, fmt.Errorf("failed to get token id: %w", err)
	}
	return id, nil
}

// TokenID returns the OAuth-account ID of the token set stored for (provider, email)
func (s *Store) TokenID(ctx context.Context, provider, email string) (int64, error) {
	var id int64
	err := s.cache.DB().GetContext(ctx, &id,
		"SELECT id FROM oauth_tokens WHERE provider = ? AND email = ?", provider, email)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("oauth token %s/%s: %w", provider, email, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get token id: %w", err)
	}
	return id, nil
}

// UpdateToken stores a refreshed access token. refreshToken is only replaced when non-empty.
func (s *Store) UpdateToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := s.cache.DB().ExecContext(ctx, `
		UPDATE oauth_tokens SET
			access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			expires_at = ?,
			updated_at = ?
		WHERE id = ?`,
		accessToken, refreshToken, refreshToken, unix(expiresAt), s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("oauth account %d: %w", id, ErrNotFound)
	}
	return nil
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func nullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
