package directory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EloquentChat/internal/session"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, handler http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewHTTPClient(srv.URL, staticToken(token), logger, nil, nil)
	require.NoError(t, err)
	return c
}

func TestCreateSessionSendsBearerToken(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/sessions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		json.NewEncoder(w).Encode(session.Session{ID: "sess-1", Title: payload["title"]})
	})

	c := newTestClient(t, handler, "tok-1")
	sess, err := c.CreateSession(context.Background(), "Guest chat")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "Guest chat", sess.Title)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestAnonymousRequestOmitsAuthorization(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]session.Message{})
	})

	c := newTestClient(t, handler, "")
	_, err := c.ListMessages(context.Background(), "sess-1")
	require.NoError(t, err)
}

func TestListSessionsByOwner(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions", r.URL.Path)
		require.Equal(t, "user-1", r.URL.Query().Get("owner"))
		json.NewEncoder(w).Encode([]session.Session{
			{ID: "newest", UserID: "user-1"},
			{ID: "older", UserID: "user-1"},
		})
	})

	c := newTestClient(t, handler, "tok-1")
	sessions, err := c.ListSessionsByOwner(context.Background(), "user-1")
	require.NoError(t, err)

	require.Len(t, sessions, 2)
	assert.Equal(t, "newest", sessions[0].ID)
}

func TestClaimSessionsIdempotent(t *testing.T) {
	owned := map[string]bool{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions/claim", r.URL.Path)

		var payload map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		claimed := make([]session.Session, 0, len(payload["session_ids"]))
		for _, id := range payload["session_ids"] {
			owned[id] = true
			claimed = append(claimed, session.Session{ID: id, UserID: "user-1"})
		}
		json.NewEncoder(w).Encode(claimed)
	})

	c := newTestClient(t, handler, "tok-1")

	first, err := c.ClaimSessions(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	second, err := c.ClaimSessions(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, owned, 2)
}

func TestPostChatTurn(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "sess-1", payload["sessionId"])

		json.NewEncoder(w).Encode(ChatResponse{
			SessionID: "sess-1",
			Messages: []session.Message{
				{Role: session.RoleUser, Content: payload["message"]},
				{Role: session.RoleAssistant, Content: "hello back"},
			},
		})
	})

	c := newTestClient(t, handler, "")
	resp, err := c.PostChatTurn(context.Background(), "sess-1", "hello")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", resp.SessionID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, session.RoleAssistant, resp.Messages[1].Role)
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, handler, "stale-token")
	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.ListSessionsByOwner(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestServerErrorSurfaces(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	c := newTestClient(t, handler, "")
	_, err := c.ListMessages(context.Background(), "sess-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestLogin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		json.NewEncoder(w).Encode(LoginResponse{
			AccessToken: "tok-9",
			User:        session.User{ID: "user-1", Email: "a@b.c"},
		})
	})

	c := newTestClient(t, handler, "")
	resp, err := c.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	assert.Equal(t, "tok-9", resp.AccessToken)
	assert.Equal(t, "user-1", resp.User.ID)
}
