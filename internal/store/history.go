// Package store persists conversation history to a local SQLite database
// so past sessions can be reviewed after the process exits. The live
// transcript never reads from here; persistence is write-behind and a
// storage failure never blocks the conversation.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"snchat/internal/logging"
	"snchat/internal/transcript"
)

// HistoryStore records transcript entries per session.
type HistoryStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// SessionSummary describes one stored session for listings.
type SessionSummary struct {
	SessionID    string
	MessageCount int
	StartedAt    time.Time
	LastActivity time.Time
}

// NewHistoryStore opens (or creates) the history database at path.
func NewHistoryStore(path string) (*HistoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewHistoryStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &HistoryStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("History store ready at %s", path)
	return s, nil
}

func (s *HistoryStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveMessage persists one transcript entry. Duplicate (session, seq)
// pairs are silently skipped so replaying a transcript is idempotent.
func (s *HistoryStore) SaveMessage(sessionID string, msg transcript.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (id, session_id, seq, role, kind, text, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, msg.Seq, string(msg.Role), string(msg.Kind), msg.Text, string(msg.Source), msg.CreatedAt,
	)
	if err != nil {
		logging.StoreError("Failed to save message session=%s seq=%d: %v", sessionID, msg.Seq, err)
		return err
	}
	logging.StoreDebug("Saved message session=%s seq=%d role=%s", sessionID, msg.Seq, msg.Role)
	return nil
}

// LoadSession returns a session's messages in insertion order.
func (s *HistoryStore) LoadSession(sessionID string) ([]transcript.Message, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadSession")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, seq, role, kind, text, source, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transcript.Message
	for rows.Next() {
		var m transcript.Message
		var role, kind, source string
		if err := rows.Scan(&m.ID, &m.Seq, &role, &kind, &m.Text, &source, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = transcript.Role(role)
		m.Kind = transcript.Kind(kind)
		m.Source = transcript.Source(source)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSessions returns stored sessions, most recently active first.
func (s *HistoryStore) ListSessions(limit int) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		 FROM messages GROUP BY session_id
		 ORDER BY MAX(created_at) DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.MessageCount, &sum.StartedAt, &sum.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes all messages of one session.
func (s *HistoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	logging.StoreDebug("Deleted session %s (%d messages)", sessionID, n)
	return nil
}

// PruneSessions deletes sessions whose last activity is older than the
// cutoff. Returns the number of messages removed.
func (s *HistoryStore) PruneSessions(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.Exec(
		`DELETE FROM messages WHERE session_id IN (
			SELECT session_id FROM messages GROUP BY session_id
			HAVING MAX(created_at) < ?
		)`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	logging.StoreDebug("Pruned %d messages older than %v", n, olderThan)
	return int(n), nil
}

// Attach subscribes the store to a live transcript so every appended
// entry is persisted. Returns the observer so callers can compose it.
func (s *HistoryStore) Attach(sessionID string, t *transcript.Store) func(transcript.Message) {
	observer := func(msg transcript.Message) {
		if err := s.SaveMessage(sessionID, msg); err != nil {
			logging.StoreError("write-behind persist failed: %v", err)
		}
	}
	t.OnAppend(observer)
	return observer
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
