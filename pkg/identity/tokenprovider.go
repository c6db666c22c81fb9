package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-storefront/pkg/apierror"
)

// TokenProvider is the standard Provider implementation. It holds the
// current token pair and performs the refresh-once-then-retry dance for
// authenticated calls. Safe for concurrent use.
type TokenProvider struct {
	cfg    TokenProviderConfig
	logger zerolog.Logger

	mu   sync.RWMutex
	user *User
}

// NewTokenProvider creates a TokenProvider. user may be nil for an
// anonymous session; SetUser signs a user in later.
func NewTokenProvider(cfg TokenProviderConfig, user *User, logger zerolog.Logger) *TokenProvider {
	return &TokenProvider{
		cfg:    cfg,
		user:   user,
		logger: logger.With().Str("component", "TokenProvider").Logger(),
	}
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (p *TokenProvider) CurrentUser() *User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

// SetUser replaces the current user. Pass nil to sign out.
func (p *TokenProvider) SetUser(user *User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}

// RunAuthenticated invokes fn with the current access token, refreshing
// and retrying once on an auth failure.
func (p *TokenProvider) RunAuthenticated(ctx context.Context, fn func(ctx context.Context, accessToken string) error) error {
	user := p.CurrentUser()
	if user == nil || user.AccessToken == "" {
		return ErrNotAuthenticated
	}

	err := fn(ctx, user.AccessToken)
	if err == nil || !apierror.IsAuthFailure(err) {
		return err
	}

	p.logger.Debug().Msg("Access token rejected. Refreshing and retrying once.")
	refreshed, refreshErr := p.refresh(ctx, user.RefreshToken)
	if refreshErr != nil {
		p.logout()
		return fmt.Errorf("token refresh failed: %w", refreshErr)
	}

	if retryErr := fn(ctx, refreshed.AccessToken); retryErr != nil {
		if apierror.IsAuthFailure(retryErr) {
			p.logout()
		}
		return retryErr
	}
	return nil
}

func (p *TokenProvider) refresh(ctx context.Context, refreshToken string) (*User, error) {
	if p.cfg.Refresh == nil {
		return nil, fmt.Errorf("no refresh function configured")
	}
	refreshed, err := p.cfg.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.user = refreshed
	p.mu.Unlock()
	return refreshed, nil
}

func (p *TokenProvider) logout() {
	p.logger.Warn().Msg("Authentication unrecoverable. Signing out.")
	p.SetUser(nil)
	if p.cfg.OnLogout != nil {
		p.cfg.OnLogout()
	}
}
