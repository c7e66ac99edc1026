package auth

import (
	"context"
	"sync"
	"time"
)

type tokenCtxKey struct{}

// WithToken carries a bearer token for outgoing backend requests.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, token)
}

// TokenFromContext returns the bearer token set by WithToken.
func TokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tokenCtxKey{}).(string)
	return v
}

// ContextTokens forwards the caller's token.
type ContextTokens struct{}

func (ContextTokens) Token(ctx context.Context) (string, error) {
	return TokenFromContext(ctx), nil
}

// ServiceTokens issues and caches a service token for background callers
// that have no user token to forward.
type ServiceTokens struct {
	Subject string
	Issuer  string
	Key     string
	TTL     time.Duration

	mu      sync.Mutex
	current Token
}

// Token returns a cached token, re-issuing it shortly before expiry.
func (s *ServiceTokens) Token(ctx context.Context) (string, error) {
	if tok := TokenFromContext(ctx); tok != "" {
		return tok, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Value != "" && time.Until(s.current.ExpiresAt) > 30*time.Second {
		return s.current.Value, nil
	}
	tok, err := Issue(s.Subject, RoleService, s.Issuer, s.Key, s.TTL)
	if err != nil {
		return "", err
	}
	s.current = tok
	return tok.Value, nil
}
