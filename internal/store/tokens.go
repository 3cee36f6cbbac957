package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/recoverybot/internal/apperr"
)

// Credential is the persisted OAuth credential for one (provider, identity) pair.
type Credential struct {
	ID           int64
	Provider     string
	UserIdentity string
	RefreshToken string
	AccessToken  string
	Scope        string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TokenStore reads and writes credentials for a single provider.
type TokenStore struct {
	db       *sql.DB
	provider string
	now      func() time.Time
}

// Tokens returns the credential store for provider.
func (s *Store) Tokens(provider string) *TokenStore {
	return &TokenStore{db: s.db, provider: provider, now: time.Now}
}

// Provider returns the provider id the store is scoped to.
func (t *TokenStore) Provider() string { return t.provider }

// NormalizeIdentity lowercases and trims a mailbox identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

const credentialColumns = `id, provider, user_identity, refresh_token, access_token,
	scope, expires_at, created_at, updated_at`

func scanCredential(row interface{ Scan(...any) error }) (*Credential, error) {
	var (
		c       Credential
		scope   sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Provider, &c.UserIdentity, &c.RefreshToken, &c.AccessToken,
		&scope, &expires, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Scope = scope.String
	if expires.Valid {
		t := expires.Time.UTC()
		c.ExpiresAt = &t
	}
	return &c, nil
}

// GetToken returns the credential for identity, or nil when none is stored.
func (t *TokenStore) GetToken(ctx context.Context, identity string) (*Credential, error) {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		return nil, apperr.New(apperr.KindValidation, "user identity is required")
	}

	row := t.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE provider = ? AND user_identity = ?`,
		t.provider, identity)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// UpsertToken inserts or replaces the credential for identity. The refresh
// token, access token, expiry and scope are overwritten in place.
func (t *TokenStore) UpsertToken(ctx context.Context, identity, refreshToken, accessToken string, expiry *time.Time, scope string) error {
	identity = NormalizeIdentity(identity)
	var missing []string
	if identity == "" {
		missing = append(missing, "userIdentity")
	}
	if refreshToken == "" {
		missing = append(missing, "refreshToken")
	}
	if accessToken == "" {
		missing = append(missing, "accessToken")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindValidation, "missing required credential fields: %s", strings.Join(missing, ", "))
	}

	now := t.now().UTC()
	var expiresAt any
	if expiry != nil && !expiry.IsZero() {
		expiresAt = expiry.UTC()
	}
	var scopeVal any
	if scope != "" {
		scopeVal = scope
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO credentials (provider, user_identity, refresh_token, access_token, scope, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, user_identity) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			access_token  = excluded.access_token,
			scope         = excluded.scope,
			expires_at    = excluded.expires_at,
			updated_at    = excluded.updated_at`,
		t.provider, identity, refreshToken, accessToken, scopeVal, expiresAt, now, now)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// ListTokens returns every credential for the provider ordered by identity.
func (t *TokenStore) ListTokens(ctx context.Context) ([]Credential, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE provider = ? ORDER BY user_identity`,
		t.provider)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}
