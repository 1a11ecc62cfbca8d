package directory

import (
	"context"
	"errors"

	"EloquentChat/internal/session"
)

// ErrUnauthorized is returned when the remote service rejects the caller's
// credentials. Callers are expected to treat it as a forced logout rather
// than a per-operation failure.
var ErrUnauthorized = errors.New("unauthorized")

// ChatResponse is the reply to a posted chat turn. The echoed SessionID must
// match the request; Messages may carry only role/content pairs, the
// authoritative transcript comes from ListMessages.
type ChatResponse struct {
	SessionID string            `json:"sessionId"`
	Messages  []session.Message `json:"messages"`
}

// LoginResponse is the reply to a successful login.
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	User        session.User `json:"user"`
}

// Client is the session directory contract consumed by the reconciliation
// engine. Ownership is enforced server-side: operations on sessions outside
// the caller's authorization fail or return empty rather than leaking data.
type Client interface {
	// CreateSession creates a new session. Ownership derives from the
	// caller's bearer token; without one the session is anonymous.
	CreateSession(ctx context.Context, title string) (session.Session, error)

	// ListSessionsByOwner returns the user's sessions in server-defined
	// order, index 0 most recent.
	ListSessionsByOwner(ctx context.Context, ownerID string) ([]session.Session, error)

	// ClaimSessions transfers ownership of anonymous sessions to the
	// authenticated caller. Idempotent: resubmitting the same ids neither
	// duplicates sessions nor errors.
	ClaimSessions(ctx context.Context, ids []string) ([]session.Session, error)

	// ListMessages returns the full ordered transcript for a session.
	ListMessages(ctx context.Context, sessionID string) ([]session.Message, error)

	// PostChatTurn submits a user turn and returns the service's reply.
	PostChatTurn(ctx context.Context, sessionID, text string) (ChatResponse, error)
}

// AuthClient is the account-facing half of the remote service.
type AuthClient interface {
	// Register creates a new account.
	Register(ctx context.Context, email, password string) (session.User, error)

	// Login exchanges credentials for a bearer token.
	Login(ctx context.Context, email, password string) (LoginResponse, error)

	// Me resolves the caller's bearer token to its account.
	Me(ctx context.Context) (session.User, error)
}
