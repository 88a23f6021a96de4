package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/config"
)

// ErrUnauthorized is returned for any missing, malformed, or mismatched
// credential. Callers map it to a 401 without leaking which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// Principal identifies the authenticated caller.
type Principal struct {
	Subject string
	Method  string // token | jwt | none
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// Chain authenticates bearer credentials. Two modes: a static shared token
// compared in constant time (the default), or JWT validation against a JWKS
// endpoint when one is configured. With neither configured, auth is disabled.
type Chain struct {
	cfg    config.AuthConfig
	logger zerolog.Logger
	bearer *BearerAuth
}

func NewChain(cfg config.AuthConfig, logger zerolog.Logger) *Chain {
	c := &Chain{cfg: cfg, logger: logger}
	if cfg.JWKSURL != "" {
		c.bearer = NewBearerAuth(cfg, logger)
	}
	return c
}

// Enabled reports whether requests must present credentials.
func (c *Chain) Enabled() bool {
	return c.cfg.BearerToken != "" || c.bearer != nil
}

// Authenticate checks an Authorization header value and returns the caller's
// principal. Every failure surfaces as ErrUnauthorized.
func (c *Chain) Authenticate(ctx context.Context, header string) (*Principal, error) {
	if !c.Enabled() {
		return &Principal{Subject: "anonymous", Method: "none"}, nil
	}

	token, ok := bearerToken(header)
	if !ok {
		return nil, ErrUnauthorized
	}

	if c.bearer != nil {
		p, err := c.bearer.Authenticate(ctx, token)
		if err != nil {
			c.logger.Debug().Err(err).Msg("jwt bearer rejected")
			return nil, ErrUnauthorized
		}
		return p, nil
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(c.cfg.BearerToken)) != 1 {
		return nil, ErrUnauthorized
	}
	return &Principal{Subject: "bearer", Method: "token"}, nil
}

func bearerToken(header string) (string, bool) {
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", false
	}
	return token, true
}
