package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"EloquentChat/internal/bus"
	"EloquentChat/internal/directory"
	"EloquentChat/internal/session"
)

// DefaultTitle is used for sessions created without an explicit title.
const DefaultTitle = "Guest chat"

// ErrProtocolViolation is returned when a chat response names a session other
// than the one the turn was posted to.
var ErrProtocolViolation = errors.New("protocol violation")

// ErrSendInFlight is returned when a send is attempted while another is
// still outstanding. Presentation is expected to gate on the Sending flag.
var ErrSendInFlight = errors.New("a send is already in flight")

// State is the engine's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateIdle
	StateSending
)

// LocalStore is the durable device-local state consumed by the engine.
type LocalStore interface {
	CurrentSessionID() string
	SetCurrentSessionID(id string)
	ClearCurrentSessionID()
	SessionIDs() []string
	AddSessionID(id string)
	ClearSessionIDs()
}

// Identity resolves and transitions the client's identity.
type Identity interface {
	Authenticated() bool
	CurrentUser() *session.User
	Resolve(ctx context.Context) *session.User
	Login(ctx context.Context, email, password string) (*session.User, error)
	Register(ctx context.Context, email, password string) (*session.User, error)
	Logout()
}

// Deps are the engine's collaborators, injected by the composition root.
type Deps struct {
	Store     LocalStore
	Directory directory.Client
	Identity  Identity
	Bus       *bus.Bus
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter
}

// Engine owns the decision of which conversation is current. It reacts to
// application start, identity changes, explicit load/new requests, message
// sends and external sessions-changed notifications, and publishes the
// resulting view to presentation.
type Engine struct {
	store  LocalStore
	dir    directory.Client
	id     Identity
	bus    *bus.Bus
	logger *slog.Logger
	tracer trace.Tracer

	bootstrapRuns metric.Int64Counter
	sendDuration  metric.Float64Histogram

	mu          sync.Mutex
	epoch       uint64
	state       State
	current     *session.Session
	confirmed   []session.Message
	pending     *session.Message
	sessionList []session.Session
	onChange    func(View)
	unsubscribe func()
}

// New creates an engine and subscribes it to the sessions-changed bus.
func New(deps Deps) (*Engine, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if deps.Store == nil || deps.Directory == nil || deps.Identity == nil || deps.Bus == nil {
		return nil, fmt.Errorf("store, directory, identity and bus are all required")
	}
	if deps.Tracer == nil {
		deps.Tracer = tracenoop.NewTracerProvider().Tracer("engine")
	}
	if deps.Meter == nil {
		deps.Meter = metricnoop.NewMeterProvider().Meter("engine")
	}

	bootstrapRuns, err := deps.Meter.Int64Counter(
		"chat.bootstrap.runs",
		metric.WithDescription("Number of bootstrap invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap counter: %w", err)
	}

	sendDuration, err := deps.Meter.Float64Histogram(
		"chat.send.duration",
		metric.WithDescription("Chat turn round-trip duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create send histogram: %w", err)
	}

	e := &Engine{
		store:         deps.Store,
		dir:           deps.Directory,
		id:            deps.Identity,
		bus:           deps.Bus,
		logger:        deps.Logger,
		tracer:        deps.Tracer,
		bootstrapRuns: bootstrapRuns,
		sendDuration:  sendDuration,
		state:         StateUninitialized,
	}

	e.unsubscribe = deps.Bus.Subscribe(func() {
		// Notifications are delivered synchronously; re-derive state off the
		// publisher's call stack.
		go func() {
			if err := e.Bootstrap(context.Background()); err != nil {
				e.logger.Warn("notification-triggered bootstrap failed", "error", err)
			}
		}()
	})

	return e, nil
}

// Close unsubscribes the engine from the bus.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// beginRun supersedes any in-flight run and marks the engine as loading.
func (e *Engine) beginRun() uint64 {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.state = StateBootstrapping
	e.mu.Unlock()
	e.publishView()
	return epoch
}

// Bootstrap resolves identity and selects the current session: the persisted
// pointer when it is still part of the identity's session set, else the most
// recent entry of that set, else no session at all. Safe to invoke
// concurrently with itself; superseded runs discard their results.
func (e *Engine) Bootstrap(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.bootstrap")
	defer span.End()

	epoch := e.beginRun()
	e.bootstrapRuns.Add(ctx, 1)

	user := e.id.Resolve(ctx)
	pointer := e.store.CurrentSessionID()

	var list []session.Session
	if user != nil {
		owned, err := e.dir.ListSessionsByOwner(ctx, user.ID)
		if err != nil {
			return e.runFailure(epoch, "bootstrap", err)
		}
		list = owned
	} else {
		ids := e.store.SessionIDs()
		list = make([]session.Session, 0, len(ids))
		for _, id := range ids {
			list = append(list, session.Session{ID: id, Title: DefaultTitle})
		}
	}

	target := ""
	if pointer != "" && containsID(list, pointer) {
		target = pointer
	} else if len(list) > 0 {
		target = list[0].ID
	}

	if target == "" {
		// No session exists for this identity; never auto-create here.
		e.commit(epoch, func() {
			e.current = nil
			e.confirmed = nil
			e.pending = nil
			e.sessionList = list
		})
		return nil
	}

	messages, err := e.dir.ListMessages(ctx, target)
	if err != nil {
		return e.runFailure(epoch, "bootstrap", err)
	}

	sess := findSession(list, target)
	committed := e.commit(epoch, func() {
		e.current = &sess
		e.confirmed = messages
		e.pending = nil
		e.sessionList = list
		e.store.SetCurrentSessionID(target)
	})
	if committed {
		e.logger.Info("bootstrap complete", "session_id", target, "authenticated", user != nil)
	}
	return nil
}

// Load makes the given session current, bypassing the selection rule.
// Ownership is enforced server-side; a rejected fetch surfaces as an error
// with state left unchanged.
func (e *Engine) Load(ctx context.Context, id string) error {
	ctx, span := e.tracer.Start(ctx, "engine.load")
	defer span.End()

	epoch := e.beginRun()

	messages, err := e.dir.ListMessages(ctx, id)
	if err != nil {
		return e.runFailure(epoch, "load", err)
	}

	e.mu.Lock()
	sess := findSession(e.sessionList, id)
	e.mu.Unlock()

	e.commit(epoch, func() {
		e.current = &sess
		e.confirmed = messages
		e.pending = nil
		e.store.SetCurrentSessionID(id)
	})
	return nil
}

// NewSession creates a fresh session owned by the current identity
// (anonymous when no token is present) and makes it current.
func (e *Engine) NewSession(ctx context.Context, title string) error {
	ctx, span := e.tracer.Start(ctx, "engine.new_session")
	defer span.End()

	if title == "" {
		title = DefaultTitle
	}

	epoch := e.beginRun()

	sess, err := e.dir.CreateSession(ctx, title)
	if err != nil {
		return e.runFailure(epoch, "new_session", err)
	}

	messages, err := e.dir.ListMessages(ctx, sess.ID)
	if err != nil {
		return e.runFailure(epoch, "new_session", err)
	}

	anonymous := !e.id.Authenticated()
	e.commit(epoch, func() {
		e.sessionList = append([]session.Session{sess}, e.sessionList...)
		e.current = &sess
		e.confirmed = messages
		e.pending = nil
		if anonymous {
			e.store.AddSessionID(sess.ID)
		}
		e.store.SetCurrentSessionID(sess.ID)
	})
	e.logger.Info("started new session", "session_id", sess.ID, "anonymous", anonymous)
	return nil
}

// Send submits a chat turn for the current session. Without a current
// session it is a silent no-op. An optimistic user entry is shown until the
// authoritative transcript replaces the whole message list.
func (e *Engine) Send(ctx context.Context, text string) error {
	ctx, span := e.tracer.Start(ctx, "engine.send")
	defer span.End()

	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		e.logger.Debug("send ignored: no current session")
		return nil
	}
	if e.state == StateSending {
		e.mu.Unlock()
		return ErrSendInFlight
	}
	sessionID := e.current.ID
	e.pending = &session.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      session.RoleUser,
		Content:   text,
	}
	e.state = StateSending
	e.mu.Unlock()
	e.publishView()

	start := time.Now()

	resp, err := e.dir.PostChatTurn(ctx, sessionID, text)
	if err != nil {
		return e.sendFailure(err)
	}
	if resp.SessionID != sessionID {
		e.dropPending()
		return fmt.Errorf("%w: posted turn to %s, response names %s", ErrProtocolViolation, sessionID, resp.SessionID)
	}

	messages, err := e.dir.ListMessages(ctx, sessionID)
	if err != nil {
		return e.sendFailure(err)
	}

	e.mu.Lock()
	// Replace, never patch: the authoritative set wins even if the server
	// reordered or augmented the turn.
	if e.current != nil && e.current.ID == sessionID {
		e.confirmed = messages
	}
	e.pending = nil
	e.state = StateIdle
	e.mu.Unlock()
	e.publishView()

	e.sendDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	return nil
}

// Login authenticates, claims this device's anonymous sessions for the new
// identity and notifies every engine instance to re-bootstrap from server
// state.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	user, err := e.id.Login(ctx, email, password)
	if err != nil {
		return err
	}
	e.afterLogin(ctx, user)
	return nil
}

// Register creates an account, logs into it and runs the same post-login
// reconciliation as Login.
func (e *Engine) Register(ctx context.Context, email, password string) error {
	user, err := e.id.Register(ctx, email, password)
	if err != nil {
		return err
	}
	e.afterLogin(ctx, user)
	return nil
}

func (e *Engine) afterLogin(ctx context.Context, user *session.User) {
	e.claimLocalSessions(ctx, user)
	// Even when nothing was claimed the account may already own sessions;
	// everyone re-derives from server state.
	e.bus.Publish()
}

// claimLocalSessions submits the anonymous-session registry for claiming.
// Failures are logged and swallowed: the registry is retained so a later
// login can retry, and unclaimed sessions stay usable anonymously.
func (e *Engine) claimLocalSessions(ctx context.Context, user *session.User) {
	ids := e.store.SessionIDs()
	if len(ids) == 0 {
		return
	}

	if _, err := e.dir.ClaimSessions(ctx, ids); err != nil {
		e.logger.Warn("failed to claim local sessions", "count", len(ids), "error", err)
		return
	}

	e.store.ClearSessionIDs()
	e.store.ClearCurrentSessionID()
	e.logger.Info("claimed local sessions", "count", len(ids), "user_id", user.ID)
}

// Logout drops the token, the pointer and all conversation state. The
// anonymous-session registry survives so those sessions remain reachable.
func (e *Engine) Logout() {
	e.id.Logout()
	e.forceLogout()
}

// forceLogout resets the engine to a clean anonymous state. Also invoked
// when any remote call reports the credentials were rejected.
func (e *Engine) forceLogout() {
	e.store.ClearCurrentSessionID()

	e.mu.Lock()
	e.epoch++ // in-flight runs must not resurrect the cleared state
	e.current = nil
	e.confirmed = nil
	e.pending = nil
	e.sessionList = nil
	e.state = StateIdle
	e.mu.Unlock()
	e.publishView()
}

// commit applies mutate and flips to Idle, unless the run was superseded.
func (e *Engine) commit(epoch uint64, mutate func()) bool {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		e.logger.Debug("discarding superseded run", "epoch", epoch)
		return false
	}
	mutate()
	e.state = StateIdle
	e.mu.Unlock()
	e.publishView()
	return true
}

// runFailure resolves an epoch-guarded run that ended in a remote error.
// Rejected credentials degrade to a forced logout instead of surfacing.
func (e *Engine) runFailure(epoch uint64, op string, err error) error {
	if errors.Is(err, directory.ErrUnauthorized) {
		e.logger.Warn("credentials rejected, logging out", "op", op)
		e.id.Logout()
		e.forceLogout()
		return nil
	}

	e.mu.Lock()
	if epoch == e.epoch {
		e.state = StateIdle
	}
	e.mu.Unlock()
	e.publishView()
	return fmt.Errorf("%s failed: %w", op, err)
}

func (e *Engine) sendFailure(err error) error {
	if errors.Is(err, directory.ErrUnauthorized) {
		e.logger.Warn("credentials rejected during send, logging out")
		e.id.Logout()
		e.forceLogout()
		return nil
	}
	e.dropPending()
	return fmt.Errorf("send failed: %w", err)
}

func (e *Engine) dropPending() {
	e.mu.Lock()
	e.pending = nil
	e.state = StateIdle
	e.mu.Unlock()
	e.publishView()
}

func containsID(list []session.Session, id string) bool {
	for _, s := range list {
		if s.ID == id {
			return true
		}
	}
	return false
}

// findSession returns the list entry for id, or a minimal stand-in when the
// id is not in the list (explicit loads may reference sessions the engine
// has not seen).
func findSession(list []session.Session, id string) session.Session {
	for _, s := range list {
		if s.ID == id {
			return s
		}
	}
	return session.Session{ID: id, Title: DefaultTitle}
}
