// Package auth resolves bearer tokens to caller identities and meters
// ingest per caller. Both transports share one Authenticator.
package auth

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rzbill/mediaflo/internal/config"
	"github.com/rzbill/mediaflo/internal/producer"
)

// AnonymousSubject is the caller identity given to requests without a token
// when anonymous access is allowed.
const AnonymousSubject = "anonymous"

// Authenticator maps bearer tokens to caller identities. Issuing tokens is
// somebody else's job; this only looks them up.
type Authenticator struct {
	tokens         map[string]string
	allowAnonymous bool
}

// NewAuthenticator builds an Authenticator from the auth config.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	tokens := make(map[string]string, len(cfg.Tokens))
	for tok, subject := range cfg.Tokens {
		tokens[tok] = subject
	}
	return &Authenticator{tokens: tokens, allowAnonymous: cfg.AllowAnonymous}
}

// BearerToken extracts the token of an "Authorization: Bearer" value.
func BearerToken(header string) string {
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

// Lookup resolves a raw token. The empty token is the anonymous caller.
func (a *Authenticator) Lookup(token string) (producer.Identity, bool) {
	if token == "" {
		if a.allowAnonymous {
			return producer.Identity{Subject: AnonymousSubject}, true
		}
		return producer.Identity{}, false
	}
	subject, ok := a.tokens[token]
	if !ok {
		return producer.Identity{}, false
	}
	return producer.Identity{Subject: subject}, true
}

type identityKey struct{}

// WithIdentity stores the resolved caller in ctx.
func WithIdentity(ctx context.Context, who producer.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, who)
}

// FromContext returns the caller stored by WithIdentity.
func FromContext(ctx context.Context) (producer.Identity, bool) {
	who, ok := ctx.Value(identityKey{}).(producer.Identity)
	return who, ok && !who.IsZero()
}

// Limiter hands out one token bucket per caller, shared by all of that
// caller's ingest connections.
type Limiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter allows perSecond items with the given burst; perSecond <= 0
// disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limit: limit, burst: burst, limiters: map[string]*rate.Limiter{}}
}

// Wait blocks until subject may ingest one more item or ctx is done.
func (l *Limiter) Wait(ctx context.Context, subject string) error {
	return l.forCaller(subject).Wait(ctx)
}

func (l *Limiter) forCaller(subject string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[subject] = lim
	}
	return lim
}
