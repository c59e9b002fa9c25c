package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
)

const upsertConversation = `
	INSERT INTO conversations (id, participants, unread_count, position,
		last_message_id, last_temp_id, last_sender_id, last_content, last_type, last_status, last_message_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		participants = excluded.participants,
		unread_count = excluded.unread_count,
		position = excluded.position,
		last_message_id = excluded.last_message_id,
		last_temp_id = excluded.last_temp_id,
		last_sender_id = excluded.last_sender_id,
		last_content = excluded.last_content,
		last_type = excluded.last_type,
		last_status = excluded.last_status,
		last_message_at = excluded.last_message_at,
		updated_at = excluded.updated_at`

// SaveConversations stores the conversation list in the given order. Rows
// for conversations no longer in the list are kept; the list is never
// shrunk client-side.
func (db *DB) SaveConversations(convs []chat.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Shift existing rows behind the new list so stale ones sort last.
	if _, err := tx.Exec(`UPDATE conversations SET position = position + ?`, len(convs)); err != nil {
		return fmt.Errorf("shift positions: %w", err)
	}
	now := time.Now().UnixMilli()
	for i, c := range convs {
		if err := execUpsertConversation(tx, c, i, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func execUpsertConversation(tx *sql.Tx, c chat.Conversation, position int, now int64) error {
	parts, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("encode participants of %s: %w", c.ID, err)
	}
	last := chat.Message{Type: chat.TypeText}
	if c.LastMessage != nil {
		last = *c.LastMessage
	}
	if _, err := tx.Exec(upsertConversation,
		c.ID, string(parts), c.UnreadCount, position,
		last.Ref.ServerID(), last.Ref.TempID(), last.SenderID, last.Content,
		string(last.Type), string(last.Status), millis(last.Timestamp), now); err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
	}
	return nil
}

// ListConversations returns cached conversations in list order.
func (db *DB) ListConversations() ([]chat.Conversation, error) {
	rows, err := db.Query(`
		SELECT id, participants, unread_count,
			last_message_id, last_temp_id, last_sender_id, last_content, last_type, last_status, last_message_at
		FROM conversations
		ORDER BY position ASC, last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns one cached conversation, or nil if absent.
func (db *DB) GetConversation(id string) (*chat.Conversation, error) {
	row := db.QueryRow(`
		SELECT id, participants, unread_count,
			last_message_id, last_temp_id, last_sender_id, last_content, last_type, last_status, last_message_at
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (chat.Conversation, error) {
	var c chat.Conversation
	var parts, lastID, lastTemp, lastSender, lastContent, lastType, lastSts string
	var lastAt int64
	if err := s.Scan(&c.ID, &parts, &c.UnreadCount,
		&lastID, &lastTemp, &lastSender, &lastContent, &lastType, &lastSts, &lastAt); err != nil {
		return chat.Conversation{}, err
	}
	if err := json.Unmarshal([]byte(parts), &c.Participants); err != nil {
		return chat.Conversation{}, fmt.Errorf("decode participants of %s: %w", c.ID, err)
	}
	if lastID != "" || lastTemp != "" {
		typ := chat.MessageType(lastType)
		if typ == "" {
			typ = chat.TypeText
		}
		ref := chat.Pending(lastTemp)
		if lastID != "" {
			ref = chat.Confirmed(lastID).WithOrigin(lastTemp)
		}
		c.LastMessage = &chat.Message{
			Ref:            ref,
			ConversationID: c.ID,
			SenderID:       lastSender,
			Content:        lastContent,
			Type:           typ,
			Status:         chat.ParseStatus(lastSts),
			Timestamp:      fromMillis(lastAt),
		}
	}
	return c, nil
}
