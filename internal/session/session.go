package session

// Message roles as persisted by the remote service.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User is an authenticated account on the remote service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session represents a single conversation. UserID is empty while the
// session is anonymous and is set exactly once when the session is claimed
// by a user; it is never reassigned afterwards.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	Title  string `json:"title"`
}

// Message is a single chat turn. Messages are immutable once persisted
// server-side. Optimistic entries minted by the client carry a temporary id
// and are superseded by the authoritative transcript.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}
