// Package eventdb is the SQLite-backed home of role-play events, the
// account and asset records that receive event rewards, and bulletin
// board posts.
package eventdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT    NOT NULL,
	description      TEXT    NOT NULL DEFAULT '',
	date             INTEGER NOT NULL DEFAULT 0,
	location         INTEGER NOT NULL DEFAULT -1,
	finished         INTEGER NOT NULL DEFAULT 0,
	public_event     INTEGER NOT NULL DEFAULT 1,
	gm_event         INTEGER NOT NULL DEFAULT 0,
	celebration_tier INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS events_finished ON events(finished, date);
CREATE TABLE IF NOT EXISTS event_roles (
	event_id INTEGER NOT NULL,
	persona  INTEGER NOT NULL,
	role     TEXT    NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (event_id, role, persona)
);
CREATE TABLE IF NOT EXISTS accounts (
	persona INTEGER PRIMARY KEY,
	karma   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS assets (
	persona  INTEGER PRIMARY KEY,
	prestige INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS board_posts (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	board    TEXT    NOT NULL,
	poster   INTEGER NOT NULL DEFAULT -1,
	subject  TEXT    NOT NULL DEFAULT '',
	body     TEXT    NOT NULL DEFAULT '',
	tag_key  TEXT    NOT NULL DEFAULT '',
	tag_data TEXT    NOT NULL DEFAULT '',
	posted   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS board_posts_tag ON board_posts(tag_key, tag_data);
`

// Store manages the SQLite connection.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex // serializes multi-statement writes
	path    string
	timeout time.Duration
}

// Open opens a SQLite database, sets WAL mode and busy timeout, and
// creates the schema.
func Open(path string, timeoutSec int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventdb: opening sqlite %s: %w", path, err)
	}
	// Set WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventdb: setting WAL mode: %w", err)
	}
	// Set busy timeout (milliseconds)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000)); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventdb: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventdb: creating schema: %w", err)
	}
	return &Store{
		db:      db,
		path:    path,
		timeout: time.Duration(timeoutSec) * time.Second,
	}, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *Store) Path() string { return s.path }

// Checkpoint forces a WAL checkpoint to flush all writes to the main database file.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// withTimeout bounds a call by the configured busy timeout.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
