package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
)

// Snapshot is what the cache knows at startup.
type Snapshot struct {
	Conversations []chat.Conversation
	Messages      map[string][]chat.Message
}

// LoadSnapshot reads every cached conversation with its latest perConv
// messages, plus the unsent outbox entries rendered as placeholders sent by
// selfID.
func (db *DB) LoadSnapshot(perConv int, selfID string) (*Snapshot, error) {
	convs, err := db.ListConversations()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	snap := &Snapshot{
		Conversations: convs,
		Messages:      make(map[string][]chat.Message, len(convs)),
	}
	for _, c := range convs {
		msgs, err := db.ListMessages(c.ID, time.Time{}, perConv)
		if err != nil {
			return nil, fmt.Errorf("list messages of %s: %w", c.ID, err)
		}
		snap.Messages[c.ID] = msgs
	}

	unsent, err := db.UnsentOutbox()
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	for _, e := range unsent {
		if e.Status != OutboxFailed {
			continue
		}
		snap.Messages[e.ConversationID] = append(snap.Messages[e.ConversationID], e.Placeholder(selfID))
	}
	return snap, nil
}
