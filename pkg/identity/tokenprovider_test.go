package identity_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-storefront/pkg/apierror"
	"github.com/illmade-knight/go-storefront/pkg/identity"
)

func unauthorized() error {
	return &apierror.Error{StatusCode: http.StatusUnauthorized, Code: "UNAUTHORIZED"}
}

func TestTokenProvider_RunAuthenticated(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous session", func(t *testing.T) {
		p := identity.NewTokenProvider(identity.TokenProviderConfig{}, nil, zerolog.Nop())
		err := p.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
			t.Fatal("fn must not run without a user")
			return nil
		})
		assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
	})

	t.Run("success on first attempt", func(t *testing.T) {
		p := identity.NewTokenProvider(identity.TokenProviderConfig{}, &identity.User{AccessToken: "tok-1"}, zerolog.Nop())
		var seen string
		err := p.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
			seen = token
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "tok-1", seen)
	})

	t.Run("refresh and retry once on auth failure", func(t *testing.T) {
		var refreshCalls atomic.Int32
		cfg := identity.TokenProviderConfig{
			Refresh: func(ctx context.Context, refreshToken string) (*identity.User, error) {
				refreshCalls.Add(1)
				assert.Equal(t, "refresh-1", refreshToken)
				return &identity.User{AccessToken: "tok-2", RefreshToken: "refresh-2"}, nil
			},
		}
		p := identity.NewTokenProvider(cfg, &identity.User{AccessToken: "tok-1", RefreshToken: "refresh-1"}, zerolog.Nop())

		var tokens []string
		err := p.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
			tokens = append(tokens, token)
			if token == "tok-1" {
				return unauthorized()
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"tok-1", "tok-2"}, tokens)
		assert.Equal(t, int32(1), refreshCalls.Load())
		assert.Equal(t, "tok-2", p.CurrentUser().AccessToken, "refreshed credentials are retained")
	})

	t.Run("second auth failure signs out", func(t *testing.T) {
		var loggedOut atomic.Bool
		cfg := identity.TokenProviderConfig{
			Refresh: func(ctx context.Context, refreshToken string) (*identity.User, error) {
				return &identity.User{AccessToken: "tok-2"}, nil
			},
			OnLogout: func() { loggedOut.Store(true) },
		}
		p := identity.NewTokenProvider(cfg, &identity.User{AccessToken: "tok-1", RefreshToken: "refresh-1"}, zerolog.Nop())

		err := p.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
			return unauthorized()
		})

		require.Error(t, err)
		assert.True(t, apierror.IsAuthFailure(err))
		assert.True(t, loggedOut.Load())
		assert.Nil(t, p.CurrentUser())
	})

	t.Run("non-auth failures are not retried", func(t *testing.T) {
		var attempts atomic.Int32
		cfg := identity.TokenProviderConfig{
			Refresh: func(ctx context.Context, refreshToken string) (*identity.User, error) {
				t.Fatal("a transient failure must not trigger a refresh")
				return nil, nil
			},
		}
		p := identity.NewTokenProvider(cfg, &identity.User{AccessToken: "tok-1"}, zerolog.Nop())

		transient := errors.New("connection reset")
		err := p.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
			attempts.Add(1)
			return transient
		})

		assert.ErrorIs(t, err, transient)
		assert.Equal(t, int32(1), attempts.Load())
	})
}
