package authn

import (
	"context"

	"vidyahub.org/internal/token"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	principalKey
)

// ContextWithClaims stores claims verified upstream (by the rate limiter) so
// the auth gate can skip redundant verification. The value is an explicit
// typed claim set, not a flag: absence simply means "verify independently".
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns pre-verified claims, if any.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok && claims != nil
}

// ContextWithPrincipal stores the resolved principal for downstream handlers.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal for the request.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
