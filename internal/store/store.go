// Package store is termhub's durable record store: one sqlite database
// file holding the sessions table and a config key/value table (the
// bearer token among other settings). No per-message history is durable.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Session is one persisted session row.
type Session struct {
	ID              string
	ProjectPath     string
	Model           string
	PlanMode        bool
	AutoAccept      bool
	State           string
	SessionType     string
	MultiplexerName string
	Cols            int
	Rows            int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	EndedAt         *time.Time
	Summary         string
}

// Store is the single-writer, WAL-mode sqlite record store. The *sql.DB
// pool is capped at one open connection, so reads and writes alike are
// serialized through it.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	project_path     TEXT NOT NULL,
	model            TEXT NOT NULL DEFAULT '',
	plan_mode        INTEGER NOT NULL DEFAULT 0,
	auto_accept      INTEGER NOT NULL DEFAULT 0,
	state            TEXT NOT NULL,
	session_type     TEXT NOT NULL,
	multiplexer_name TEXT NOT NULL,
	cols             INTEGER NOT NULL DEFAULT 0,
	rows             INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	ended_at         TEXT,
	summary          TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// InsertSession adds a new session row.
func (s *Store) InsertSession(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
INSERT INTO sessions (id, project_path, model, plan_mode, auto_accept, state, session_type, multiplexer_name, cols, rows, created_at, updated_at, ended_at, summary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectPath, sess.Model, sess.PlanMode, sess.AutoAccept, sess.State, sess.SessionType, sess.MultiplexerName, sess.Cols, sess.Rows,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), formatTimePtr(sess.EndedAt), sess.Summary)
	if err != nil {
		return fmt.Errorf("store: insert session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSession overwrites an existing session row by id.
func (s *Store) UpdateSession(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
UPDATE sessions SET project_path=?, model=?, plan_mode=?, auto_accept=?, state=?, session_type=?, multiplexer_name=?, cols=?, rows=?, updated_at=?, ended_at=?, summary=?
WHERE id=?`,
		sess.ProjectPath, sess.Model, sess.PlanMode, sess.AutoAccept, sess.State, sess.SessionType, sess.MultiplexerName, sess.Cols, sess.Rows,
		formatTime(sess.UpdatedAt), formatTimePtr(sess.EndedAt), sess.Summary, sess.ID)
	if err != nil {
		return fmt.Errorf("store: update session %s: %w", sess.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: update session %s: no such row", sess.ID)
	}
	return nil
}

// MarkEnded sets state=dead and ended_at=now for a session id.
func (s *Store) MarkEnded(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE sessions SET state='dead', ended_at=?, updated_at=? WHERE id=? AND ended_at IS NULL`,
		formatTime(at), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("store: mark ended %s: %w", id, err)
	}
	return nil
}

// GetSession returns a session row by id.
func (s *Store) GetSession(id string) (Session, bool) {
	row := s.db.QueryRow(`SELECT id, project_path, model, plan_mode, auto_accept, state, session_type, multiplexer_name, cols, rows, created_at, updated_at, ended_at, summary FROM sessions WHERE id=?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, false
	}
	return sess, true
}

// ListSessions returns every persisted session row.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT id, project_path, model, plan_mode, auto_accept, state, session_type, multiplexer_name, cols, rows, created_at, updated_at, ended_at, summary FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListAliveIDs returns the ids of sessions whose ended_at is null.
func (s *Store) ListAliveIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions WHERE ended_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: list alive ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetConfig reads a config key/value row (used for the bearer token and
// other singleton settings).
func (s *Store) GetConfig(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key=?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetConfig upserts a config key/value row.
func (s *Store) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set config %s: %w", key, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (Session, error) {
	var sess Session
	var createdAt, updatedAt string
	var endedAt sql.NullString
	err := r.Scan(&sess.ID, &sess.ProjectPath, &sess.Model, &sess.PlanMode, &sess.AutoAccept, &sess.State, &sess.SessionType,
		&sess.MultiplexerName, &sess.Cols, &sess.Rows, &createdAt, &updatedAt, &endedAt, &sess.Summary)
	if err != nil {
		return Session{}, err
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}
	return sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
