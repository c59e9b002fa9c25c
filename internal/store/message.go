package store

import (
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
)

const upsertMessage = `
	INSERT INTO messages (conversation_id, msg_id, temp_id, sender_id, content, message_type, status, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
		temp_id = CASE WHEN excluded.temp_id != '' THEN excluded.temp_id ELSE messages.temp_id END,
		content = excluded.content,
		status = excluded.status,
		timestamp = excluded.timestamp`

// UpsertMessage stores a confirmed message; pending ones are skipped since
// the outbox already holds them.
func (db *DB) UpsertMessage(m chat.Message) error {
	if m.Ref.IsPending() {
		return nil
	}
	_, err := db.Exec(upsertMessage, messageArgs(m, time.Now().UnixMilli())...)
	return err
}

// ReplaceMessages swaps the cached messages of one conversation for the
// confirmed messages in msgs.
func (db *DB) ReplaceMessages(conversationID string, msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear messages of %s: %w", conversationID, err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.Ref.IsPending() {
			continue
		}
		m.ConversationID = conversationID
		if _, err := tx.Exec(upsertMessage, messageArgs(m, now)...); err != nil {
			return fmt.Errorf("insert message %s: %w", m.Ref.ServerID(), err)
		}
	}
	return tx.Commit()
}

// SetMessageStatus updates a cached message's status by server id. It
// reports whether any row matched.
func (db *DB) SetMessageStatus(msgID string, status chat.Status) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, string(status), msgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMessages returns up to limit messages older than before, oldest
// first. A zero before means "latest".
func (db *DB) ListMessages(conversationID string, before time.Time, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeTs := millis(before)
	if beforeTs <= 0 {
		beforeTs = time.Now().Add(24 * time.Hour).UnixMilli()
	}
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, temp_id, sender_id, content, message_type, status, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func messageArgs(m chat.Message, now int64) []any {
	typ := m.Type
	if typ == "" {
		typ = chat.TypeText
	}
	return []any{
		m.ConversationID, m.Ref.ServerID(), m.Ref.TempID(), m.SenderID, m.Content,
		string(typ), string(m.Status), millis(m.Timestamp), now,
	}
}

func scanMessage(s scanner) (chat.Message, error) {
	var m chat.Message
	var msgID, tempID, typ, status string
	var ts int64
	if err := s.Scan(&m.ConversationID, &msgID, &tempID, &m.SenderID, &m.Content, &typ, &status, &ts); err != nil {
		return chat.Message{}, err
	}
	m.Ref = chat.Confirmed(msgID).WithOrigin(tempID)
	m.Type = chat.MessageType(typ)
	m.Status = chat.ParseStatus(status)
	m.Timestamp = fromMillis(ts)
	return m, nil
}
