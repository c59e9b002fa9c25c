package chat

import "time"

// Status is the delivery state of a message.
type Status string

const (
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// ParseStatus maps a wire status onto a Status. Unknown values map to
// StatusSent, the state every server-confirmed message starts in.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return Status(s)
	}
	return StatusSent
}

// MessageType tags message content. Only plain text exists today.
type MessageType string

const TypeText MessageType = "TEXT"

// Ref identifies a message. A message is either Pending, known only by the
// temporary id it was given at optimistic insert, or Confirmed by the server.
// A confirmed Ref keeps the temporary id it originated from so a late echo
// of the same send can still be matched.
type Ref struct {
	serverID string
	tempID   string
}

// Pending returns the Ref of a locally created, unconfirmed message.
func Pending(tempID string) Ref {
	return Ref{tempID: tempID}
}

// Confirmed returns the Ref of a server-acknowledged message.
func Confirmed(serverID string) Ref {
	return Ref{serverID: serverID}
}

// WithOrigin records the temporary id a confirmed Ref originated from.
func (r Ref) WithOrigin(tempID string) Ref {
	r.tempID = tempID
	return r
}

func (r Ref) IsPending() bool  { return r.serverID == "" }
func (r Ref) ServerID() string { return r.serverID }
func (r Ref) TempID() string   { return r.tempID }

// ID returns the server id, or the temporary id while pending.
func (r Ref) ID() string {
	if r.IsPending() {
		return r.tempID
	}
	return r.serverID
}

func (r Ref) String() string {
	if r.IsPending() {
		return "pending(" + r.tempID + ")"
	}
	return "confirmed(" + r.serverID + ")"
}

// Message is a single chat message as held by the Store.
type Message struct {
	Ref            Ref
	ConversationID string
	SenderID       string
	Content        string
	Type           MessageType
	Status         Status
	Timestamp      time.Time
}

// Conversation is a thread between two or more participants.
type Conversation struct {
	ID           string
	Participants []string
	LastMessage  *Message
	UnreadCount  int
}

func (c Conversation) lastAt() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.Timestamp
}

func (c Conversation) clone() Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return out
}

// StatusUpdate is a delivery state change pushed by the server.
type StatusUpdate struct {
	MessageID string
	Status    Status
}
