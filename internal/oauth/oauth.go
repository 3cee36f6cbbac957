// Package oauth runs the delegated authorization code flow against the
// configured provider and keeps the stored credential fresh.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/config"
	"github.com/wesm/recoverybot/internal/store"
)

const (
	stateBytes      = 32
	defaultStateTTL = 10 * time.Minute
)

// TokenWriter persists credentials. *store.TokenStore and the sheet mirror
// both satisfy it.
type TokenWriter interface {
	UpsertToken(ctx context.Context, identity, refreshToken, accessToken string, expiry *time.Time, scope string) error
}

// StateStore keeps pending authorization nonces server-side.
type StateStore interface {
	SaveState(ctx context.Context, state, loginHint string, ttl time.Duration) error
	ConsumeState(ctx context.Context, state string) (*store.OAuthState, error)
}

// IdentityResolver maps an access token to its mailbox address.
type IdentityResolver interface {
	Me(ctx context.Context, accessToken string) (string, error)
}

// TokenPair is the result of a code exchange or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// Manager handles authorization and refresh for one provider.
type Manager struct {
	config   *oauth2.Config
	tokens   TokenWriter
	states   StateStore
	resolver IdentityResolver
	stateTTL time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.client = hc }
}

// WithStateTTL sets how long an authorization nonce stays valid.
func WithStateTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.stateTTL = ttl }
}

// NewManager creates a manager for the provider described by cfg.
func NewManager(cfg config.ProviderConfig, tokens TokenWriter, states StateStore, resolver IdentityResolver, opts ...Option) *Manager {
	m := &Manager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeEndpoint,
				TokenURL:  cfg.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		tokens:   tokens,
		states:   states,
		resolver: resolver,
		stateTTL: defaultStateTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) withClient(ctx context.Context) context.Context {
	if m.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeURL issues a fresh state nonce and returns the provider consent URL.
func (m *Manager) AuthCodeURL(ctx context.Context, loginHint string) (string, error) {
	state, err := newState()
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "authorization state")
	}
	loginHint = store.NormalizeIdentity(loginHint)
	if err := m.states.SaveState(ctx, state, loginHint, m.stateTTL); err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}
	return m.config.AuthCodeURL(state, opts...), nil
}

// Approve completes an authorization: it consumes the state nonce, exchanges
// the code, resolves the mailbox identity, and stores the credential. When
// the request named a login hint, the signed-in mailbox must match it.
func (m *Manager) Approve(ctx context.Context, code, state string) (string, error) {
	pending, err := m.states.ConsumeState(ctx, state)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", apperr.New(apperr.KindValidation, "authorization code is missing")
	}

	tok, err := m.config.Exchange(m.withClient(ctx), code)
	if err != nil {
		return "", apperr.Wrap(apperr.KindRefreshFailure, err, "exchange authorization code")
	}
	pair := m.pairFromToken(tok, "")

	identity, err := m.resolver.Me(ctx, pair.AccessToken)
	if err != nil {
		return "", err
	}
	identity = store.NormalizeIdentity(identity)
	if pending.LoginHint != "" && pending.LoginHint != identity {
		m.logger.Warn("signed-in mailbox does not match the requested one",
			zap.String("requested", pending.LoginHint),
			zap.String("identity", identity))
		return "", apperr.New(apperr.KindValidation,
			"signed in as %s but authorization was requested for %s", identity, pending.LoginHint)
	}
	if err := m.store(ctx, identity, pair); err != nil {
		return "", err
	}
	m.logger.Info("mailbox authorized", zap.String("identity", identity), zap.String("scope", pair.Scope))
	return identity, nil
}

// Refresh redeems refreshToken and persists the rotated pair. When the
// provider does not rotate, the old refresh token is kept.
func (m *Manager) Refresh(ctx context.Context, identity, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, apperr.New(apperr.KindValidation, "refresh token is required")
	}
	src := m.config.TokenSource(m.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRefreshFailure, err, "refresh token grant for %s", identity)
	}

	pair := m.pairFromToken(tok, refreshToken)
	if err := m.store(ctx, identity, pair); err != nil {
		return nil, err
	}
	m.logger.Debug("token refreshed", zap.String("identity", identity), zap.Time("expiry", pair.Expiry))
	return pair, nil
}

func (m *Manager) store(ctx context.Context, identity string, pair *TokenPair) error {
	var expiry *time.Time
	if !pair.Expiry.IsZero() {
		e := pair.Expiry.UTC()
		expiry = &e
	}
	return m.tokens.UpsertToken(ctx, identity, pair.RefreshToken, pair.AccessToken, expiry, pair.Scope)
}

// pairFromToken converts a token response. A missing refresh token falls back
// to fallbackRefresh and a missing scope to the requested scopes.
func (m *Manager) pairFromToken(tok *oauth2.Token, fallbackRefresh string) *TokenPair {
	pair := &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = fallbackRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		pair.Scope = scope
	} else {
		pair.Scope = scopesToString(m.config.Scopes)
	}
	return pair
}

// scopesToString joins scopes with spaces.
func scopesToString(scopes []string) string {
	return strings.Join(scopes, " ")
}

// openBrowser opens the default browser to the given URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
