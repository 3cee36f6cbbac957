package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/recoverybot/internal/apperr"
)

// OAuthState is a pending authorization request nonce.
type OAuthState struct {
	State     string
	LoginHint string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SaveState records a new authorization nonce valid for ttl.
func (s *Store) SaveState(ctx context.Context, state, loginHint string, ttl time.Duration) error {
	if state == "" {
		return apperr.New(apperr.KindValidation, "state is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, login_hint, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		state, loginHint, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// ConsumeState deletes the nonce and returns it. Unknown, already used, and
// expired nonces fail with a validation error.
func (s *Store) ConsumeState(ctx context.Context, state string) (*OAuthState, error) {
	if state == "" {
		return nil, apperr.New(apperr.KindValidation, "state parameter is missing")
	}

	var st OAuthState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT state, login_hint, created_at, expires_at FROM oauth_states WHERE state = ?`, state).
			Scan(&st.State, &st.LoginHint, &st.CreatedAt, &st.ExpiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindValidation, "unknown or already used state parameter")
		}
		if err != nil {
			return fmt.Errorf("load oauth state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
			return fmt.Errorf("delete oauth state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !time.Now().UTC().Before(st.ExpiresAt) {
		return nil, apperr.New(apperr.KindValidation, "state parameter expired")
	}
	return &st, nil
}

// PurgeExpiredStates removes nonces past their expiry and returns how many
// were deleted.
func (s *Store) PurgeExpiredStates(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge oauth states: %w", err)
	}
	return res.RowsAffected()
}
