package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"EloquentChat/internal/directory"
	"EloquentChat/internal/session"
)

// TokenStore is the durable slot holding the auth token.
type TokenStore interface {
	Token() string
	SetToken(token string)
	ClearToken()
}

// Provider tracks who the client is acting as. The token lives in the
// durable store; the resolved user lives only in memory and is re-derived
// from the token on each bootstrap. Invariant: a non-nil user implies a
// stored token (the reverse does not hold during the bootstrap window).
type Provider struct {
	store  TokenStore
	auth   directory.AuthClient
	logger *slog.Logger

	mu   sync.Mutex
	user *session.User
}

// NewProvider creates an identity provider over the given token slot.
func NewProvider(store TokenStore, auth directory.AuthClient, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Provider{store: store, auth: auth, logger: logger}, nil
}

// Authenticated reports whether a token is stored. The user may not be
// resolved yet.
func (p *Provider) Authenticated() bool {
	return p.store.Token() != ""
}

// Token returns the stored bearer token, or "" when anonymous.
func (p *Provider) Token() string {
	return p.store.Token()
}

// CurrentUser returns the resolved user, or nil when anonymous or not yet
// resolved.
func (p *Provider) CurrentUser() *session.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

// Resolve derives the current user from the stored token. A rejected or
// unusable token is cleared and resolution degrades to anonymous rather
// than failing the caller.
func (p *Provider) Resolve(ctx context.Context) *session.User {
	if p.store.Token() == "" {
		p.setUser(nil)
		return nil
	}

	user, err := p.auth.Me(ctx)
	if err != nil {
		p.logger.Warn("token resolution failed, dropping token", "error", err)
		p.store.ClearToken()
		p.setUser(nil)
		return nil
	}

	p.setUser(&user)
	return &user
}

// Login exchanges credentials for a token and stores it.
func (p *Provider) Login(ctx context.Context, email, password string) (*session.User, error) {
	resp, err := p.auth.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	p.store.SetToken(resp.AccessToken)
	user := resp.User
	p.setUser(&user)
	p.logger.Info("logged in", "user_id", user.ID, "email", user.Email)
	return &user, nil
}

// Register creates an account and logs straight into it.
func (p *Provider) Register(ctx context.Context, email, password string) (*session.User, error) {
	if _, err := p.auth.Register(ctx, email, password); err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	return p.Login(ctx, email, password)
}

// Logout drops the token and the resolved user.
func (p *Provider) Logout() {
	p.store.ClearToken()
	p.setUser(nil)
	p.logger.Info("logged out")
}

func (p *Provider) setUser(user *session.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}
