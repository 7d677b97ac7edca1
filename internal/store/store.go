// Package store persists user state in a local SQLite database: playback
// progress, recently viewed anime, subscriptions, the last server used per
// source and offline download tasks.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	busyTimeout  = 5000 // ms
	maxOpenConns = 4
	maxIdleConns = 2
)

// MaxRecent is how many recently viewed anime are kept.
const MaxRecent = 50

const schema = `
CREATE TABLE IF NOT EXISTS progress (
	episode_id   TEXT PRIMARY KEY,
	anime_link   TEXT    NOT NULL DEFAULT '',
	episode_name TEXT    NOT NULL DEFAULT '',
	server       TEXT    NOT NULL DEFAULT '',
	position     REAL    NOT NULL DEFAULT 0 CHECK(position >= 0),
	duration     REAL    NOT NULL DEFAULT 0 CHECK(duration >= 0),
	fraction     REAL    NOT NULL DEFAULT 0 CHECK(fraction >= 0 AND fraction <= 1),
	updated      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_progress_updated ON progress(updated);

CREATE TABLE IF NOT EXISTS recent_anime (
	link     TEXT PRIMARY KEY,
	title    TEXT    NOT NULL DEFAULT '',
	image    TEXT    NOT NULL DEFAULT '',
	source   TEXT    NOT NULL DEFAULT '',
	position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	link   TEXT PRIMARY KEY,
	title  TEXT    NOT NULL DEFAULT '',
	image  TEXT    NOT NULL DEFAULT '',
	source TEXT    NOT NULL DEFAULT '',
	added  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS recent_servers (
	source TEXT PRIMARY KEY,
	server TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS offline_tasks (
	episode_id   TEXT PRIMARY KEY,
	anime_link   TEXT    NOT NULL DEFAULT '',
	anime_title  TEXT    NOT NULL DEFAULT '',
	episode_name TEXT    NOT NULL DEFAULT '',
	server       TEXT    NOT NULL DEFAULT '',
	url          TEXT    NOT NULL DEFAULT '',
	path         TEXT    NOT NULL DEFAULT '',
	state        TEXT    NOT NULL,
	received     INTEGER NOT NULL DEFAULT 0,
	total        INTEGER NOT NULL DEFAULT 0,
	error        TEXT    NOT NULL DEFAULT '',
	updated      INTEGER NOT NULL
);`

// Store is a handle on the state database. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string

	upsertProgressPS *sql.Stmt
	getProgressPS    *sql.Stmt
	upsertTaskPS     *sql.Stmt
	getTaskPS        *sql.Stmt
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		filepath.ToSlash(path), busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare() error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.upsertProgressPS, `INSERT INTO progress (episode_id, anime_link, episode_name, server, position, duration, fraction, updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(episode_id) DO UPDATE SET
				anime_link = CASE WHEN excluded.anime_link != '' THEN excluded.anime_link ELSE progress.anime_link END,
				episode_name = CASE WHEN excluded.episode_name != '' THEN excluded.episode_name ELSE progress.episode_name END,
				server = CASE WHEN excluded.server != '' THEN excluded.server ELSE progress.server END,
				position = CASE WHEN excluded.duration > 0 OR excluded.position > 0 THEN excluded.position
					ELSE excluded.fraction * progress.duration END,
				duration = CASE WHEN excluded.duration > 0 THEN excluded.duration ELSE progress.duration END,
				fraction = excluded.fraction,
				updated = excluded.updated`},
		{&s.getProgressPS, `SELECT episode_id, anime_link, episode_name, server, position, duration, fraction, updated
			FROM progress WHERE episode_id = ?`},
		{&s.upsertTaskPS, `INSERT INTO offline_tasks (episode_id, anime_link, anime_title, episode_name, server, url, path, state, received, total, error, updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(episode_id) DO UPDATE SET
				anime_link = excluded.anime_link,
				anime_title = excluded.anime_title,
				episode_name = excluded.episode_name,
				server = excluded.server,
				url = excluded.url,
				path = excluded.path,
				state = excluded.state,
				received = excluded.received,
				total = excluded.total,
				error = excluded.error,
				updated = excluded.updated`},
		{&s.getTaskPS, `SELECT ` + taskColumns + ` FROM offline_tasks WHERE episode_id = ?`},
	}

	for _, st := range stmts {
		ps, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("preparing statement %q: %w", firstWords(st.query), err)
		}
		*st.dst = ps
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases prepared statements and closes the database.
func (s *Store) Close() error {
	for _, ps := range []*sql.Stmt{s.upsertProgressPS, s.getProgressPS, s.upsertTaskPS, s.getTaskPS} {
		if ps != nil {
			ps.Close()
		}
	}
	return s.db.Close()
}

// withTx runs fn in a transaction, rolling back when it fails.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func firstWords(q string) string {
	fields := strings.Fields(q)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
