// ABOUTME: Request identity carried through handlers via context
// ABOUTME: Provides WithOwner/OwnerFromContext for the authenticated conversation owner

package auth

import (
	"context"
)

type ownerContextKey struct{}

// WithOwner returns a new context carrying the authenticated owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext returns the authenticated owner, or "" if the request
// was not authenticated.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}
