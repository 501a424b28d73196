package auth

import "context"

type ctxKey int

const claimsKey ctxKey = iota

// Claims contains the verified identity-provider token details we use.
type Claims struct {
	Subject string
	Email   string
	Raw     map[string]any
}

// WithClaims stores auth claims in a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns claims from a context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}
