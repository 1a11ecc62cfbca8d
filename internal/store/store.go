package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// Logical slots in the local key-value table.
const (
	keyCurrentSession  = "currentSessionId"
	keySessionRegistry = "sessionIds"
	keyAuthToken       = "authToken"
)

// RegistryLimit bounds the anonymous session registry.
const RegistryLimit = 50

// Store is the durable device-local state: the current-session pointer, the
// bounded registry of anonymous session ids, and the auth token. Reads are
// total: a missing row or a corrupt payload decodes to the empty value.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the local store database at path, creating it if needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	createKVTable := `
	CREATE TABLE IF NOT EXISTS local_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create local_kv table: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) string {
	var value string
	err := s.db.QueryRow("SELECT value FROM local_kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to read local store key", "key", key, "error", err)
		}
		return ""
	}
	return value
}

func (s *Store) set(key, value string) {
	_, err := s.db.Exec("INSERT OR REPLACE INTO local_kv (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		s.logger.Warn("failed to write local store key", "key", key, "error", err)
	}
}

func (s *Store) remove(key string) {
	if _, err := s.db.Exec("DELETE FROM local_kv WHERE key = ?", key); err != nil {
		s.logger.Warn("failed to remove local store key", "key", key, "error", err)
	}
}

// CurrentSessionID returns the persisted current-session pointer, or "" when
// no session is pinned.
func (s *Store) CurrentSessionID() string {
	return s.get(keyCurrentSession)
}

// SetCurrentSessionID persists the current-session pointer.
func (s *Store) SetCurrentSessionID(id string) {
	s.set(keyCurrentSession, id)
}

// ClearCurrentSessionID removes the current-session pointer.
func (s *Store) ClearCurrentSessionID() {
	s.remove(keyCurrentSession)
}

// Token returns the stored auth token, or "" when anonymous.
func (s *Store) Token() string {
	return s.get(keyAuthToken)
}

// SetToken persists the auth token.
func (s *Store) SetToken(token string) {
	s.set(keyAuthToken, token)
}

// ClearToken removes the auth token.
func (s *Store) ClearToken() {
	s.remove(keyAuthToken)
}

// SessionIDs returns the anonymous session registry, newest first. A corrupt
// payload decodes to an empty list.
func (s *Store) SessionIDs() []string {
	raw := s.get(keySessionRegistry)
	if raw == "" {
		return nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Warn("corrupt session registry, treating as empty", "error", err)
		return nil
	}
	return ids
}

// AddSessionID inserts id at the front of the registry. Ids already present
// are left in place; the registry is truncated to RegistryLimit entries.
func (s *Store) AddSessionID(id string) {
	ids := s.SessionIDs()
	for _, existing := range ids {
		if existing == id {
			return
		}
	}

	ids = append([]string{id}, ids...)
	if len(ids) > RegistryLimit {
		ids = ids[:RegistryLimit]
	}

	raw, err := json.Marshal(ids)
	if err != nil {
		s.logger.Warn("failed to encode session registry", "error", err)
		return
	}
	s.set(keySessionRegistry, string(raw))
}

// ClearSessionIDs empties the anonymous session registry.
func (s *Store) ClearSessionIDs() {
	s.remove(keySessionRegistry)
}
