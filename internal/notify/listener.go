package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"EloquentChat/internal/bus"
)

// EventSessionsUpdated is the frame type signalling that the caller's
// session set changed on another device or tab.
const EventSessionsUpdated = "sessions-updated"

// Event is a server-pushed notification frame. It carries no payload beyond
// its type; receivers re-derive state from the directory.
type Event struct {
	Type string `json:"type"`
}

// Listener subscribes to the remote service's websocket event stream and
// republishes sessions-updated frames on the local bus.
type Listener struct {
	url    string
	conn   *websocket.Conn
	bus    *bus.Bus
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewListener connects to the event stream at url.
func NewListener(url string, b *bus.Bus, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}

	logger.Info("connected to event stream", "url", url)
	return &Listener{url: url, conn: conn, bus: b, logger: logger}, nil
}

// Run reads frames until the connection drops or Close is called. Unknown
// frame types are ignored.
func (l *Listener) Run() {
	for {
		var ev Event
		if err := l.conn.ReadJSON(&ev); err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				l.logger.Warn("event stream closed", "error", err)
			}
			return
		}

		if ev.Type == EventSessionsUpdated {
			l.logger.Info("sessions updated remotely")
			l.bus.Publish()
		}
	}
}

// Close disconnects from the event stream.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.conn != nil {
		l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.conn.Close()
	}

	l.logger.Info("closed event stream listener", "url", l.url)
	return nil
}
