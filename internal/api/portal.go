package api

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/wesm/recoverybot/internal/apperr"
)

const (
	artifactClaim = "artifact"
	portalSubject = "portal"
)

// Portal issues and verifies the HS256 tokens of the gate handshake. A gate
// token carries the shared artifact key; exchanging it yields a short-lived
// portal token signed with the session secret.
type Portal struct {
	gateKey    []byte
	sessionKey []byte
	artifact   string
	ttl        time.Duration
	now        func() time.Time
}

// NewPortal creates a Portal. A non-positive ttl defaults to one hour.
func NewPortal(gateSecret, sessionSecret, artifactKey string, ttl time.Duration) *Portal {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Portal{
		gateKey:    []byte(gateSecret),
		sessionKey: []byte(sessionSecret),
		artifact:   artifactKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (p *Portal) clock() jwt.Clock {
	return jwt.ClockFunc(p.now)
}

// VerifyGate checks the gate token signature, expiry and artifact claim.
func (p *Portal) VerifyGate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return apperr.New(apperr.KindMissingGateToken, "gate token is missing")
	}
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, p.gateKey),
		jwt.WithValidate(true),
		jwt.WithClock(p.clock()),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindMissingGateToken, err, "gate token rejected")
	}
	v, ok := tok.Get(artifactClaim)
	if !ok {
		return apperr.New(apperr.KindMissingGateToken, "gate token has no %s claim", artifactClaim)
	}
	if s, _ := v.(string); s != p.artifact {
		return apperr.New(apperr.KindMissingGateToken, "gate token artifact does not match")
	}
	return nil
}

// Issue signs a new portal token and returns it with its expiry.
func (p *Portal) Issue() (string, time.Time, error) {
	now := p.now().UTC().Truncate(time.Second)
	exp := now.Add(p.ttl)
	tok, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Subject(portalSubject).
		IssuedAt(now).
		Expiration(exp).
		Build()
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.KindInternal, err, "build portal token")
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, p.sessionKey))
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.KindInternal, err, "sign portal token")
	}
	return string(signed), exp, nil
}

// VerifyPortal checks a portal token issued by Issue.
func (p *Portal) VerifyPortal(raw string) error {
	if raw == "" {
		return apperr.New(apperr.KindMissingPortalAccess, "portal token is missing")
	}
	_, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, p.sessionKey),
		jwt.WithValidate(true),
		jwt.WithClock(p.clock()),
		jwt.WithSubject(portalSubject),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return apperr.Wrap(apperr.KindMissingPortalAccess, err, "portal token expired")
		}
		return apperr.Wrap(apperr.KindMissingPortalAccess, err, "portal token rejected")
	}
	return nil
}
