package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"EloquentChat/internal/session"
)

// TokenSource yields the caller's current bearer token, or "" when anonymous.
type TokenSource interface {
	Token() string
}

// HTTPClient implements Client and AuthClient against the remote chat
// service's REST API. It holds no identity state of its own; the token is
// read from the injected source on every request.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// NewHTTPClient creates a directory client for the service at baseURL.
func NewHTTPClient(baseURL string, tokens TokenSource, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*HTTPClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("directory")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("directory")
	}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
		logger:     logger,
		tracer:     tracer,
		duration:   duration,
	}, nil
}

// CreateSession creates a new session owned by the current identity, or
// anonymous when no token is present.
func (c *HTTPClient) CreateSession(ctx context.Context, title string) (session.Session, error) {
	var sess session.Session
	payload := map[string]string{"title": title}
	if err := c.do(ctx, "create_session", http.MethodPost, "/api/sessions", payload, &sess); err != nil {
		return session.Session{}, err
	}
	c.logger.Info("created session", "session_id", sess.ID)
	return sess, nil
}

// ListSessionsByOwner returns the sessions owned by ownerID, most recent
// first per server ordering.
func (c *HTTPClient) ListSessionsByOwner(ctx context.Context, ownerID string) ([]session.Session, error) {
	path := "/api/sessions?owner=" + url.QueryEscape(ownerID)
	var sessions []session.Session
	if err := c.do(ctx, "list_sessions", http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ClaimSessions transfers ownership of the given anonymous sessions to the
// authenticated caller.
func (c *HTTPClient) ClaimSessions(ctx context.Context, ids []string) ([]session.Session, error) {
	payload := map[string][]string{"session_ids": ids}
	var claimed []session.Session
	if err := c.do(ctx, "claim_sessions", http.MethodPost, "/api/sessions/claim", payload, &claimed); err != nil {
		return nil, err
	}
	c.logger.Info("claimed sessions", "count", len(claimed))
	return claimed, nil
}

// ListMessages returns the full transcript for a session.
func (c *HTTPClient) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	path := "/api/messages/by-session/" + url.PathEscape(sessionID)
	var messages []session.Message
	if err := c.do(ctx, "list_messages", http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// PostChatTurn submits a user turn for a session.
func (c *HTTPClient) PostChatTurn(ctx context.Context, sessionID, text string) (ChatResponse, error) {
	payload := map[string]string{"sessionId": sessionID, "message": text}
	var resp ChatResponse
	if err := c.do(ctx, "post_chat_turn", http.MethodPost, "/api/chat", payload, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// Register creates a new account.
func (c *HTTPClient) Register(ctx context.Context, email, password string) (session.User, error) {
	payload := map[string]string{"email": email, "password": password}
	var user session.User
	if err := c.do(ctx, "register", http.MethodPost, "/api/users", payload, &user); err != nil {
		return session.User{}, err
	}
	return user, nil
}

// Login exchanges credentials for a bearer token.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, "login", http.MethodPost, "/api/auth/login", payload, &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Me resolves the current bearer token to its account.
func (c *HTTPClient) Me(ctx context.Context) (session.User, error) {
	var user session.User
	if err := c.do(ctx, "me", http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return session.User{}, err
	}
	return user, nil
}

// do performs one JSON request/response round trip.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload, result interface{}) error {
	ctx, span := c.tracer.Start(ctx, "directory."+op)
	defer span.End()

	start := time.Now()

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s %s: %s", ErrUnauthorized, method, path, resp.Status)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
