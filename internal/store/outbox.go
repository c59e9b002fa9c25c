package store

import "time"

const outboxColumns = `id, temp_id, conversation_id, content, status, attempts, error_message, server_msg_id, created_at`

// QueueOutbox records a send before it is attempted. A caller about to
// attempt the send itself records it as OutboxSending so the drain loop
// never picks it up; only OutboxQueued entries are drained.
func (db *DB) QueueOutbox(tempID, conversationID, content, status string) error {
	attempts := 0
	if status == OutboxSending {
		attempts = 1
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (temp_id, conversation_id, content, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tempID, conversationID, content, status, attempts, now, now)
	return err
}

// ClaimOutbox moves a queued entry to 'sending' and counts the attempt. It
// reports false when the entry was not queued, e.g. another pass claimed it.
func (db *DB) ClaimOutbox(tempID string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, error_message = '', updated_at = ?
		WHERE temp_id = ? AND status = 'queued'`, now, tempID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (db *DB) MarkOutboxSent(tempID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE temp_id = ?`,
		serverMsgID, now, tempID)
	return err
}

func (db *DB) MarkOutboxFailed(tempID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE temp_id = ?`,
		errMsg, now, tempID)
	return err
}

// DeleteOutbox removes an entry, e.g. after the user discards it.
func (db *DB) DeleteOutbox(tempID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE temp_id = ?`, tempID)
	return err
}

// PruneOutbox deletes sent entries last touched before cutoff.
func (db *DB) PruneOutbox(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE status = 'sent' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOutbox returns one entry, or nil if absent.
func (db *DB) GetOutbox(tempID string) (*OutboxEntry, error) {
	entries, err := db.queryOutbox(`SELECT `+outboxColumns+` FROM outbox WHERE temp_id = ?`, tempID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// PendingOutbox returns entries still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.queryOutbox(`SELECT ` + outboxColumns + ` FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
}

// UnsentOutbox returns every entry that never reached the server: queued,
// interrupted mid-send or failed.
func (db *DB) UnsentOutbox() ([]OutboxEntry, error) {
	return db.queryOutbox(`SELECT ` + outboxColumns + ` FROM outbox WHERE status != 'sent' ORDER BY created_at ASC, id ASC`)
}

// RequeueInterrupted turns entries left in 'sending' by a crash back into
// failed ones. Whether they reached the server is unknown, so the user
// decides.
func (db *DB) RequeueInterrupted() (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE outbox SET status = 'failed', error_message = 'interrupted', updated_at = ?
		WHERE status = 'sending'`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryOutbox(q string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.TempID, &e.ConversationID, &e.Content, &e.Status,
			&e.Attempts, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
