package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated identity attached to a request. Sessions are
// issued by the external auth server; taskdeck only verifies them.
type User struct {
	ID string `json:"id"`
}

// contextKey represents custom context key types to avoid collisions
type contextKey string

const userContextKey contextKey = "user"

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the user from request context.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok
}

// ServiceClaims are the claims carried by service-to-service JWTs.
type ServiceClaims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}
