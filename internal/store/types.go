package store

import (
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
)

// Outbox entry states.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is a locally originated send.
type OutboxEntry struct {
	ID             int64
	TempID         string
	ConversationID string
	Content        string
	Status         string
	Attempts       int
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64
}

// Placeholder renders a failed entry as the pending message it stood for.
func (e OutboxEntry) Placeholder(senderID string) chat.Message {
	st := chat.StatusSending
	if e.Status == OutboxFailed {
		st = chat.StatusFailed
	}
	return chat.Message{
		Ref:            chat.Pending(e.TempID),
		ConversationID: e.ConversationID,
		SenderID:       senderID,
		Content:        e.Content,
		Type:           chat.TypeText,
		Status:         st,
		Timestamp:      fromMillis(e.CreatedAt),
	}
}

// SearchResult is a cached message matching a search, with a short excerpt
// around the first hit.
type SearchResult struct {
	Message chat.Message
	Snippet string
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
