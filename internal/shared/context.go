package shared

import "context"

// Claims carries the authenticated principal through request context.
type Claims struct {
	UserID      int64
	Username    string
	Roles       []string
	Permissions []string
	IsSystem    bool
}

type claimsContextKey struct{}

// ContextWithClaims stores the verified access-token claims in context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts the claims from context, nil when unauthenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return claims
}
