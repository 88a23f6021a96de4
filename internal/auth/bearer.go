package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendarbot/internal/cache"
	"github.com/sonroyaalmerol/calendarbot/internal/config"
)

// BearerAuth validates JWT bearer tokens against a JWKS endpoint. The keyset
// is refetched on a TTL, and verified tokens are cached briefly so a chatty
// skill backend does not pay signature checks on every request.
type BearerAuth struct {
	cfg    config.AuthConfig
	logger zerolog.Logger

	mu     sync.Mutex
	keyset jwk.Set
	ksAt   time.Time
	ksTTL  time.Duration

	verCache *cache.Cache[string, *Principal]
}

func NewBearerAuth(cfg config.AuthConfig, logger zerolog.Logger) *BearerAuth {
	return &BearerAuth{
		cfg:      cfg,
		logger:   logger,
		ksTTL:    10 * time.Minute,
		verCache: cache.New[string, *Principal](2 * time.Minute),
	}
}

func (b *BearerAuth) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if p, ok := b.verCache.Get(token); ok && p != nil {
		return p, nil
	}

	set, err := b.keys(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
	if err != nil {
		return nil, err
	}
	if iss := tok.Issuer(); b.cfg.Issuer != "" && iss != b.cfg.Issuer {
		return nil, errors.New("issuer mismatch")
	}
	if b.cfg.Audience != "" {
		found := false
		for _, a := range tok.Audience() {
			if a == b.cfg.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("audience mismatch")
		}
	}
	sub := tok.Subject()
	if sub == "" {
		return nil, errors.New("no sub")
	}

	p := &Principal{Subject: sub, Method: "jwt"}
	b.verCache.Set(token, p)
	return p, nil
}

// keys returns the cached JWKS, refetching once the TTL lapses.
func (b *BearerAuth) keys(ctx context.Context) (jwk.Set, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keyset != nil && time.Since(b.ksAt) <= b.ksTTL {
		return b.keyset, nil
	}
	set, err := jwk.Fetch(ctx, b.cfg.JWKSURL)
	if err != nil {
		if b.keyset != nil {
			b.logger.Warn().Err(err).Msg("jwks refresh failed, using cached keyset")
			return b.keyset, nil
		}
		return nil, err
	}
	b.keyset = set
	b.ksAt = time.Now()
	return set, nil
}
