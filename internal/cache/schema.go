// Package cache is the on-device SQLite cache of posts, their authors and tags,
// and the page cursors recorded while syncing them.
package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ghostly/internal/notify"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS posts (
	id            TEXT PRIMARY KEY,
	slug          TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	html          TEXT NOT NULL DEFAULT '',
	feature_image TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	visibility    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL DEFAULT '',
	published_at  TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	excerpt       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS authors (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	slug          TEXT NOT NULL DEFAULT '',
	profile_image TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tags (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	slug TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS post_authors (
	post_id   TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	author_id TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (post_id, author_id)
);

CREATE TABLE IF NOT EXISTS post_tags (
	post_id  TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	tag_id   TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (post_id, tag_id)
);

CREATE TABLE IF NOT EXISTS remote_keys (
	post_id      TEXT PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
	prev_key     INTEGER,
	next_key     INTEGER,
	current_page INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_post_authors_author ON post_authors(author_id);
CREATE INDEX IF NOT EXISTS idx_post_tags_tag ON post_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_remote_keys_created ON remote_keys(created_at);
`

// Store wraps a sql.DB with cache operations and change notification.
type Store struct {
	conn   *sql.DB
	path   string
	broker *notify.Broker
	owned  bool
	logger *slog.Logger

	// lastWrite is the unix-nano time of the last local commit; the file
	// watcher uses it to tell our own writes from another process's.
	lastWrite atomic.Int64
}

// Open opens (or creates) the cache database at path and applies the schema.
// Change events are published on broker; when broker is nil the store owns a
// private one.
func Open(path string, broker *notify.Broker, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	// One connection serialises every statement, so writers never race for
	// the SQLite write lock.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}

	s := &Store{conn: conn, path: path, broker: broker, logger: logger}
	if s.broker == nil {
		s.broker = notify.NewBroker(0)
		s.owned = true
	}
	return s, nil
}

// Broker returns the broker change events are published on.
func (s *Store) Broker() *notify.Broker {
	return s.broker
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database and, if the store created it, the broker.
func (s *Store) Close() error {
	if s.owned {
		s.broker.Close()
	}
	return s.conn.Close()
}
