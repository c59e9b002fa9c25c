package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the per-session local cache (cache.db). The Conversation Store in
// memory stays authoritative; the cache only seeds it at startup and keeps
// unsent messages across restarts.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the cache at path with WAL journaling, a busy
// timeout and foreign keys on. Writes take the lock up front so concurrent
// mirror and outbox writers wait instead of failing mid-transaction.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the file the cache was opened from.
func (db *DB) Path() string {
	return db.path
}
