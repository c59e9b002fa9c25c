package store

import (
	"database/sql"
	"errors"
	"time"
)

// Sync state keys.
const (
	KeyLastConversationsSync = "conversations.synced_at"
	KeyLastPushAt            = "push.last_event_at"
	KeySelfID                = "auth.self_id"
)

// GetSyncState returns the value for key, or "" if unset.
func (db *DB) GetSyncState(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (db *DB) SetSyncState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetSyncTime reads a timestamp stored with SetSyncTime.
func (db *DB) GetSyncTime(key string) (time.Time, error) {
	v, err := db.GetSyncState(key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

func (db *DB) SetSyncTime(key string, t time.Time) error {
	return db.SetSyncState(key, t.UTC().Format(time.RFC3339Nano))
}
