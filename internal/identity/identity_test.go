package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EloquentChat/internal/directory"
	"EloquentChat/internal/session"
)

type memTokenStore struct {
	token string
}

func (m *memTokenStore) Token() string         { return m.token }
func (m *memTokenStore) SetToken(token string) { m.token = token }
func (m *memTokenStore) ClearToken()           { m.token = "" }

type fakeAuth struct {
	user     session.User
	loginErr error
	meErr    error
}

func (f *fakeAuth) Register(ctx context.Context, email, password string) (session.User, error) {
	return f.user, nil
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (directory.LoginResponse, error) {
	if f.loginErr != nil {
		return directory.LoginResponse{}, f.loginErr
	}
	return directory.LoginResponse{AccessToken: "tok-1", User: f.user}, nil
}

func (f *fakeAuth) Me(ctx context.Context) (session.User, error) {
	if f.meErr != nil {
		return session.User{}, f.meErr
	}
	return f.user, nil
}

func newTestProvider(t *testing.T, store *memTokenStore, auth *fakeAuth) *Provider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewProvider(store, auth, logger)
	require.NoError(t, err)
	return p
}

func TestLoginStoresTokenAndUser(t *testing.T) {
	store := &memTokenStore{}
	p := newTestProvider(t, store, &fakeAuth{user: session.User{ID: "user-1", Email: "u@example.com"}})

	user, err := p.Login(context.Background(), "u@example.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "tok-1", store.Token())
	assert.True(t, p.Authenticated())
	require.NotNil(t, p.CurrentUser())
	assert.Equal(t, "user-1", p.CurrentUser().ID)
}

func TestLoginFailureLeavesAnonymous(t *testing.T) {
	store := &memTokenStore{}
	p := newTestProvider(t, store, &fakeAuth{loginErr: fmt.Errorf("bad credentials")})

	_, err := p.Login(context.Background(), "u@example.com", "wrong")
	require.Error(t, err)

	assert.False(t, p.Authenticated())
	assert.Nil(t, p.CurrentUser())
}

func TestResolveWithoutToken(t *testing.T) {
	p := newTestProvider(t, &memTokenStore{}, &fakeAuth{})
	assert.Nil(t, p.Resolve(context.Background()))
}

func TestResolveDropsRejectedToken(t *testing.T) {
	store := &memTokenStore{token: "stale"}
	auth := &fakeAuth{meErr: fmt.Errorf("%w: expired", directory.ErrUnauthorized)}
	p := newTestProvider(t, store, auth)

	assert.Nil(t, p.Resolve(context.Background()))
	assert.Equal(t, "", store.Token())
	assert.False(t, p.Authenticated())
}

func TestResolveValidToken(t *testing.T) {
	store := &memTokenStore{token: "tok-1"}
	p := newTestProvider(t, store, &fakeAuth{user: session.User{ID: "user-1"}})

	user := p.Resolve(context.Background())
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "tok-1", store.Token())
}

func TestLogout(t *testing.T) {
	store := &memTokenStore{token: "tok-1"}
	p := newTestProvider(t, store, &fakeAuth{user: session.User{ID: "user-1"}})
	p.Resolve(context.Background())

	p.Logout()

	assert.Equal(t, "", store.Token())
	assert.Nil(t, p.CurrentUser())
	assert.False(t, p.Authenticated())
}
