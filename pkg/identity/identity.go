// Package identity holds the user-identity collaborator consumed by the
// cache and cart layers: who is signed in, and how to run a backend call
// with a usable access token.
package identity

import (
	"context"
	"errors"
)

// ErrNotAuthenticated is returned by RunAuthenticated when no user is
// signed in.
var ErrNotAuthenticated = errors.New("no authenticated user")

// User is the current session's token pair.
type User struct {
	AccessToken  string
	RefreshToken string
}

// Provider answers "who is signed in" and executes calls that need a
// bearer token. Implementations must refresh-and-retry exactly once on an
// auth failure.
type Provider interface {
	// CurrentUser returns the signed-in user, or nil for an anonymous
	// session.
	CurrentUser() *User
	// RunAuthenticated invokes fn with the current access token. If fn
	// fails with a 401-class error, the provider refreshes the token and
	// retries once; a second auth failure triggers the logout hook and is
	// returned to the caller.
	RunAuthenticated(ctx context.Context, fn func(ctx context.Context, accessToken string) error) error
}

// IsAuthenticated reports whether p holds a signed-in user with a usable
// access token.
func IsAuthenticated(p Provider) bool {
	u := p.CurrentUser()
	return u != nil && u.AccessToken != ""
}

// RefreshFunc exchanges a refresh token for a fresh token pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (*User, error)

// TokenProviderConfig configures a TokenProvider.
type TokenProviderConfig struct {
	// Refresh exchanges the refresh token for new credentials. Required
	// for the retry-after-refresh behavior.
	Refresh RefreshFunc
	// OnLogout is invoked when a refreshed token is still rejected.
	// Optional.
	OnLogout func()
}
