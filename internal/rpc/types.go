package rpc

import (
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
)

type Message struct {
	ID             string `json:"id"`
	TempID         string `json:"tempId,omitempty"`
	Pending        bool   `json:"pending,omitempty"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	TimestampMs    int64  `json:"timestampMs"`
}

// FromMessage flattens a store message. Pending messages carry their
// temporary id in both ID and TempID.
func FromMessage(m chat.Message) Message {
	return Message{
		ID:             m.Ref.ID(),
		TempID:         m.Ref.TempID(),
		Pending:        m.Ref.IsPending(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		Status:         string(m.Status),
		TimestampMs:    m.Timestamp.UnixMilli(),
	}
}

func FromMessages(msgs []chat.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromMessage(m))
	}
	return out
}

func (m Message) Time() time.Time {
	return time.UnixMilli(m.TimestampMs)
}

type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
}

func FromConversation(c chat.Conversation) Conversation {
	out := Conversation{
		ID:           c.ID,
		Participants: append([]string(nil), c.Participants...),
		UnreadCount:  c.UnreadCount,
	}
	if c.LastMessage != nil {
		m := FromMessage(*c.LastMessage)
		out.LastMessage = &m
	}
	return out
}

func FromConversations(convs []chat.Conversation) []Conversation {
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, FromConversation(c))
	}
	return out
}

// Event is a bus event as streamed by the Watch calls.
type Event struct {
	Kind           string   `json:"kind"`
	AtMs           int64    `json:"atMs"`
	ConversationID string   `json:"conversationId,omitempty"`
	MessageID      string   `json:"messageId,omitempty"`
	TempID         string   `json:"tempId,omitempty"`
	Error          string   `json:"error,omitempty"`
	From           string   `json:"from,omitempty"`
	To             string   `json:"to,omitempty"`
	Message        *Message `json:"message,omitempty"`
}

type WatchRequest struct {
	// Prefixes narrows the stream to event kinds within the service's
	// namespace. Empty means everything the service streams.
	Prefixes []string `json:"prefixes,omitempty"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Session       string `json:"session"`
	State         string `json:"state"`
	UserID        string `json:"userId,omitempty"`
	APIURL        string `json:"apiUrl"`
	UptimeMs      int64  `json:"uptimeMs"`
	Conversations int    `json:"conversations"`
	Current       string `json:"current,omitempty"`
	PushConnected bool   `json:"pushConnected"`
	PushRunning   bool   `json:"pushRunning"`
	LastSyncedMs  int64  `json:"lastSyncedMs,omitempty"`
	UnsentOutbox  int    `json:"unsentOutbox"`
	DroppedEvents uint64 `json:"droppedEvents,omitempty"`
	LastError     string `json:"lastError,omitempty"`
}

// LoginRequest carries either a ready token or credentials to exchange.
type LoginRequest struct {
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type LoginResponse struct {
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	ExpiresMs int64  `json:"expiresMs,omitempty"`
	State     string `json:"state"`
}

type LogoutRequest struct{}

type LogoutResponse struct {
	State string `json:"state"`
}

type ListConversationsRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Current       string         `json:"current,omitempty"`
}

type CreateConversationRequest struct {
	RecipientID string `json:"recipientId"`
}

type CreateConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

type OpenConversationRequest struct {
	ConversationID string `json:"conversationId"`
	Refresh        bool   `json:"refresh,omitempty"`
}

type OpenConversationResponse struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversationId"`
	Refresh        bool   `json:"refresh,omitempty"`
	// BeforeMs pages older history out of the local cache.
	BeforeMs int64 `json:"beforeMs,omitempty"`
	Limit    int   `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// SendMessageResponse reports the outcome of a send. A failed send is not
// an RPC error: the placeholder stays in the conversation with status
// FAILED and Failed is set.
type SendMessageResponse struct {
	Message Message `json:"message"`
	Failed  bool    `json:"failed,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type RetryMessageRequest struct {
	TempID string `json:"tempId"`
}

type DiscardMessageRequest struct {
	TempID string `json:"tempId"`
}

type DiscardMessageResponse struct {
	Content string `json:"content"`
}

type SearchMessagesRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

type SearchMessagesResponse struct {
	Results []SearchResult `json:"results"`
	HasMore bool           `json:"hasMore"`
}
