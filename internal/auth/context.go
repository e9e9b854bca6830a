package auth

import "context"

type accessContextKey struct{}
type claimsContextKey struct{}

// ContextWithAccess attaches the resolved access context.
func ContextWithAccess(ctx context.Context, ac AccessContext) context.Context {
	return context.WithValue(ctx, accessContextKey{}, &ac)
}

// AccessFromContext extracts the resolved access context.
func AccessFromContext(ctx context.Context) (AccessContext, bool) {
	if ctx == nil {
		return AccessContext{}, false
	}
	v, ok := ctx.Value(accessContextKey{}).(*AccessContext)
	if !ok || v == nil {
		return AccessContext{}, false
	}
	return *v, true
}

// ContextWithClaims stores decoded access claims.
func ContextWithClaims(ctx context.Context, claims AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, &claims)
}

// ClaimsFromContext returns the decoded access claims if present.
func ClaimsFromContext(ctx context.Context) (AccessClaims, bool) {
	if ctx == nil {
		return AccessClaims{}, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*AccessClaims)
	if !ok || v == nil {
		return AccessClaims{}, false
	}
	return *v, true
}
