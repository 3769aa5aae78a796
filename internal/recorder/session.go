package recorder

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Session is one recorded capture session.
type Session struct {
	ID            string
	Dir           string
	CreatedAt     time.Time
	Frames        int64
	Captures      int64
	PartialFrames int64
	ConfigJSON    string
}

// SessionStore indexes recorded sessions in sqlite so tooling can find
// captures without scanning directories.
type SessionStore struct {
	*sql.DB
}

// OpenSessionStore opens or creates the session index at path.
func OpenSessionStore(path string) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			dir               TEXT NOT NULL,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			frames            BIGINT,
			captures          BIGINT,
			partial_frames    BIGINT,
			config_json       TEXT
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SessionStore{db}, nil
}

// RecordSession inserts a session. An empty ID is assigned a fresh UUID;
// the assigned ID is returned.
func (s *SessionStore) RecordSession(sess Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.Exec(`
		INSERT INTO sessions (session_id, dir, frames, captures, partial_frames, config_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Dir, sess.Frames, sess.Captures, sess.PartialFrames, sess.ConfigJSON,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record session: %w", err)
	}
	return sess.ID, nil
}

// GetSession looks up one session by ID.
func (s *SessionStore) GetSession(id string) (*Session, error) {
	row := s.QueryRow(`
		SELECT session_id, dir, created_at, frames, captures, partial_frames, config_json
		FROM sessions WHERE session_id = ?`, id)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Dir, &sess.CreatedAt, &sess.Frames,
		&sess.Captures, &sess.PartialFrames, &sess.ConfigJSON); err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *SessionStore) ListSessions() ([]Session, error) {
	rows, err := s.Query(`
		SELECT session_id, dir, created_at, frames, captures, partial_frames, config_json
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Dir, &sess.CreatedAt, &sess.Frames,
			&sess.Captures, &sess.PartialFrames, &sess.ConfigJSON); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
