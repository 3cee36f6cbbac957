// Package recovery implements the account recovery pipeline: expiry policy,
// retry envelope, message classification, and confirmation.
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/mailbox"
	"github.com/wesm/recoverybot/internal/oauth"
	"github.com/wesm/recoverybot/internal/store"
)

// TokenStore is the credential lookup the service needs.
type TokenStore interface {
	GetToken(ctx context.Context, identity string) (*store.Credential, error)
}

// Refresher exchanges a refresh token for a new pair and persists it.
type Refresher interface {
	Refresh(ctx context.Context, identity, refreshToken string) (*oauth.TokenPair, error)
}

// Confirmer posts a recovery confirmation.
type Confirmer interface {
	Confirm(ctx context.Context, link string) error
}

// Options tune the introspection pipeline.
type Options struct {
	RefreshWarning time.Duration
	Count          int
	Fields         []string
	Retry          Policy
	Clock          Clock
	Logger         *zap.Logger
}

// Service is the entry point used by the API, MCP tools, and CLI.
type Service struct {
	tokens     TokenStore
	refresher  Refresher
	reader     mailbox.Reader
	classifier *Classifier
	confirmer  Confirmer
	opts       Options
	clock      Clock
	logger     *zap.Logger
}

// NewService wires the pipeline.
func NewService(tokens TokenStore, refresher Refresher, reader mailbox.Reader, classifier *Classifier, confirmer Confirmer, opts Options) *Service {
	s := &Service{
		tokens:     tokens,
		refresher:  refresher,
		reader:     reader,
		classifier: classifier,
		confirmer:  confirmer,
		opts:       opts,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.opts.Count <= 0 {
		s.opts.Count = 10
	}
	if len(s.opts.Fields) == 0 {
		s.opts.Fields = mailbox.DefaultFields
	}
	if s.opts.Retry.Clock == nil {
		s.opts.Retry.Clock = s.clock
	}
	if s.opts.Retry.Logger == nil {
		s.opts.Retry.Logger = s.logger
	}
	return s
}

// Report is the result of one introspection.
type Report struct {
	Identity  string                 `json:"identity"`
	Results   map[string]*Extraction `json:"results"`
	CheckedAt time.Time              `json:"checkedAt"`
}

// Introspect reads the recent inbox of identity and extracts one payload per
// category.
func (s *Service) Introspect(ctx context.Context, userIdentity string) (*Report, error) {
	identity := store.NormalizeIdentity(userIdentity)
	if identity == "" {
		return nil, apperr.New(apperr.KindValidation, "user identity is required")
	}
	log := s.logger.With(zap.String("identity", identity))

	cred, err := s.tokens.GetToken(ctx, identity)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apperr.New(apperr.KindCredentialMissing, "no credential stored for %s", identity)
	}

	accessToken, refreshToken := cred.AccessToken, cred.RefreshToken
	switch d := NeedsRefresh(cred.ExpiresAt, s.opts.RefreshWarning, s.clock.Now()); d {
	case ExpiredMustFail:
		return nil, apperr.New(apperr.KindCredentialExpired, "access token for %s has expired", identity)
	case RefreshSoon:
		log.Info("access token close to expiry, refreshing")
		pair := s.refreshToken(ctx, identity, refreshToken)
		if pair == nil {
			return nil, apperr.New(apperr.KindRefreshFailure, "could not refresh credential for %s", identity)
		}
		accessToken, refreshToken = pair.AccessToken, pair.RefreshToken
	}

	read := func(ctx context.Context) ([]mailbox.Message, error) {
		return s.reader.ListRecentMessages(ctx, accessToken, s.opts.Count, s.opts.Fields)
	}
	refresh := func(ctx context.Context) error {
		pair := s.refreshToken(ctx, identity, refreshToken)
		if pair == nil {
			return apperr.New(apperr.KindRefreshFailure, "could not refresh credential for %s", identity)
		}
		accessToken, refreshToken = pair.AccessToken, pair.RefreshToken
		return nil
	}

	msgs, err := Do(ctx, s.opts.Retry, read, refresh)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	results, err := s.classifier.Classify(msgs, now)
	if err != nil {
		log.Info("no relevant messages", zap.Int("scanned", len(msgs)))
		return nil, err
	}
	log.Info("introspection complete", zap.Int("scanned", len(msgs)), zap.Int("categories", len(results)))
	return &Report{Identity: identity, Results: results, CheckedAt: now.UTC()}, nil
}

// ConfirmRecovery posts the confirmation for link.
func (s *Service) ConfirmRecovery(ctx context.Context, link string) error {
	return s.confirmer.Confirm(ctx, link)
}

// refreshToken refreshes best effort: a failure is logged and reported as nil
// so the caller picks the error to surface.
func (s *Service) refreshToken(ctx context.Context, identity, refreshToken string) *oauth.TokenPair {
	pair, err := s.refresher.Refresh(ctx, identity, refreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed",
			zap.String("identity", identity),
			zap.String("code", apperr.KindOf(err).Code()),
			zap.Error(err))
		return nil
	}
	return pair
}
