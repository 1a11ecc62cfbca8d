package engine

import "EloquentChat/internal/session"

// View is the presentation-facing snapshot of engine state. Messages always
// belong to CurrentSession; the two fields change together.
type View struct {
	Loading        bool
	Sending        bool
	CurrentSession *session.Session
	Messages       []session.Message
	SessionList    []session.Session
}

// View returns a snapshot of the current state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// OnChange registers a callback invoked after every committed state change.
// The callback runs outside the engine's lock and may call View.
func (e *Engine) OnChange(fn func(View)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

func (e *Engine) viewLocked() View {
	v := View{
		Loading: e.state == StateUninitialized || e.state == StateBootstrapping,
		Sending: e.state == StateSending,
	}

	if e.current != nil {
		current := *e.current
		v.CurrentSession = &current
	}

	v.Messages = make([]session.Message, 0, len(e.confirmed)+1)
	v.Messages = append(v.Messages, e.confirmed...)
	if e.pending != nil {
		v.Messages = append(v.Messages, *e.pending)
	}

	v.SessionList = append([]session.Session(nil), e.sessionList...)
	return v
}

func (e *Engine) publishView() {
	e.mu.Lock()
	fn := e.onChange
	v := e.viewLocked()
	e.mu.Unlock()

	if fn != nil {
		fn(v)
	}
}
