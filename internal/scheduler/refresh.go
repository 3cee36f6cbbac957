package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesm/recoverybot/internal/apperr"
	"github.com/wesm/recoverybot/internal/oauth"
	"github.com/wesm/recoverybot/internal/recovery"
	"github.com/wesm/recoverybot/internal/store"
)

// TokenStore loads credentials.
type TokenStore interface {
	GetToken(ctx context.Context, identity string) (*store.Credential, error)
}

// Refresher redeems refresh tokens.
type Refresher interface {
	Refresh(ctx context.Context, identity, refreshToken string) (*oauth.TokenPair, error)
}

// ProactiveRefresh refreshes a credential only when the expiry policy says
// it is about to expire.
type ProactiveRefresh struct {
	Tokens    TokenStore
	Refresher Refresher
	Warning   time.Duration
	Now       func() time.Time
	Logger    *zap.Logger
}

// Run evaluates identity and refreshes when due. It returns the decision
// that was taken.
func (p *ProactiveRefresh) Run(ctx context.Context, identity string) (recovery.Decision, error) {
	cred, err := p.Tokens.GetToken(ctx, identity)
	if err != nil {
		return recovery.ExpiredMustFail, err
	}
	if cred == nil {
		return recovery.ExpiredMustFail, apperr.New(apperr.KindCredentialMissing, "no credential stored for %s", identity)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	d := recovery.NeedsRefresh(cred.ExpiresAt, p.Warning, now())
	if d != recovery.RefreshSoon {
		if p.Logger != nil {
			p.Logger.Debug("refresh not due", zap.String("identity", identity), zap.Stringer("decision", d))
		}
		return d, nil
	}
	if _, err := p.Refresher.Refresh(ctx, identity, cred.RefreshToken); err != nil {
		return d, err
	}
	return d, nil
}

// Func adapts Run to a RefreshFunc.
func (p *ProactiveRefresh) Func() RefreshFunc {
	return func(ctx context.Context, identity string) error {
		_, err := p.Run(ctx, identity)
		return err
	}
}
