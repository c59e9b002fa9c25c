package backend

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
)

// flexID accepts both JSON strings and numbers; the recruitment backend
// uses numeric ids, the development backend uses strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// participant is either a bare id or an object with an id.
type participant struct {
	ID   flexID `json:"id"`
	Name string `json:"name,omitempty"`
}

func (p *participant) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		type plain participant
		return json.Unmarshal(b, (*plain)(p))
	}
	return p.ID.UnmarshalJSON(b)
}

type wireMessage struct {
	ID             flexID    `json:"id"`
	TempID         string    `json:"tempId,omitempty"`
	ConversationID flexID    `json:"conversationId"`
	SenderID       flexID    `json:"senderId"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

func (w wireMessage) toChat() chat.Message {
	ref := chat.Pending(w.TempID)
	if w.ID != "" {
		ref = chat.Confirmed(string(w.ID)).WithOrigin(w.TempID)
	}
	typ := chat.MessageType(w.Type)
	if typ == "" {
		typ = chat.TypeText
	}
	return chat.Message{
		Ref:            ref,
		ConversationID: string(w.ConversationID),
		SenderID:       string(w.SenderID),
		Content:        w.Content,
		Type:           typ,
		Status:         chat.ParseStatus(w.Status),
		Timestamp:      w.Timestamp,
	}
}

type wireConversation struct {
	ID           flexID        `json:"id"`
	Participants []participant `json:"participants"`
	LastMessage  *wireMessage  `json:"lastMessage"`
	UnreadCount  int           `json:"unreadCount"`
}

func (w wireConversation) toChat() chat.Conversation {
	c := chat.Conversation{
		ID:          string(w.ID),
		UnreadCount: max(w.UnreadCount, 0),
	}
	for _, p := range w.Participants {
		c.Participants = append(c.Participants, string(p.ID))
	}
	if w.LastMessage != nil {
		m := w.LastMessage.toChat()
		if m.ConversationID == "" {
			m.ConversationID = c.ID
		}
		c.LastMessage = &m
	}
	return c
}

type sendRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	TempID  string `json:"tempId,omitempty"`
}

type createConversationRequest struct {
	RecipientID string `json:"recipientId"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is the reply to a successful login.
type Session struct {
	Token    string   `json:"token"`
	UserID   string   `json:"-"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

type wireSession struct {
	Session
	ID flexID `json:"id"`
}

type errorBody struct {
	Message string `json:"message"`
}

// DecodeMessage parses one message object, as pushed on the real-time
// channel.
func DecodeMessage(b []byte) (chat.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return chat.Message{}, err
	}
	return w.toChat(), nil
}

// EncodeMessage renders m in the wire format.
func EncodeMessage(m chat.Message) ([]byte, error) {
	w := wireMessage{
		ID:             flexID(m.Ref.ServerID()),
		TempID:         m.Ref.TempID(),
		ConversationID: flexID(m.ConversationID),
		SenderID:       flexID(m.SenderID),
		Content:        m.Content,
		Type:           string(m.Type),
		Status:         string(m.Status),
		Timestamp:      m.Timestamp,
	}
	return json.Marshal(w)
}

// DecodeStatus parses a {"messageId","status"} status event.
func DecodeStatus(b []byte) (chat.StatusUpdate, error) {
	var w struct {
		MessageID flexID `json:"messageId"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return chat.StatusUpdate{}, err
	}
	return chat.StatusUpdate{MessageID: string(w.MessageID), Status: chat.ParseStatus(w.Status)}, nil
}

