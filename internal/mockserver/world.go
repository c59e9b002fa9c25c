package mockserver

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	errNotFound  = errors.New("not found")
	errForbidden = errors.New("not a participant")
	errInvalid   = errors.New("invalid request")
)

// User is an account known to the development backend.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Password string `json:"-"`
}

// DefaultUsers seeds a recruiter and two candidates.
func DefaultUsers() []User {
	return []User{
		{ID: "u-recruiter", Username: "recruiter", Name: "Rita Recruiter", Email: "rita@bole.dev", Password: "recruiter"},
		{ID: "u-ana", Username: "ana", Name: "Ana Candidate", Email: "ana@bole.dev", Password: "ana"},
		{ID: "u-bruno", Username: "bruno", Name: "Bruno Candidate", Email: "bruno@bole.dev", Password: "bruno"},
	}
}

type message struct {
	ID             string    `json:"id"`
	TempID         string    `json:"tempId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

type participantView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type conversationView struct {
	ID           string            `json:"id"`
	Participants []participantView `json:"participants"`
	LastMessage  *message          `json:"lastMessage"`
	UnreadCount  int               `json:"unreadCount"`
}

type conversation struct {
	id           string
	participants []string
	messages     []message
	unread       map[string]int
	createdAt    time.Time
}

func (c *conversation) lastAt() time.Time {
	if n := len(c.messages); n > 0 {
		return c.messages[n-1].Timestamp
	}
	return c.createdAt
}

// world is the backend's in-memory state.
type world struct {
	mu    sync.Mutex
	users map[string]User
	convs map[string]*conversation
	now   func() time.Time
	newID func() string
}

func newWorld(users []User) *world {
	w := &world{
		users: make(map[string]User, len(users)),
		convs: make(map[string]*conversation),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, u := range users {
		w.users[u.ID] = u
	}
	return w
}

func (w *world) login(username, password string) (User, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range w.users {
		if strings.EqualFold(u.Username, username) && u.Password == password {
			return u, true
		}
	}
	return User{}, false
}

func (w *world) user(id string) (User, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	u, ok := w.users[id]
	return u, ok
}

func (w *world) userByName(username string) (User, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range w.users {
		if strings.EqualFold(u.Username, username) {
			return u, true
		}
	}
	return User{}, false
}

func (w *world) viewLocked(c *conversation, userID string) conversationView {
	v := conversationView{ID: c.id, UnreadCount: c.unread[userID]}
	for _, p := range c.participants {
		v.Participants = append(v.Participants, participantView{ID: p, Name: w.users[p].Name})
	}
	if n := len(c.messages); n > 0 {
		last := c.messages[n-1]
		v.LastMessage = &last
	}
	return v
}

// conversations returns userID's conversations, most recent activity first.
func (w *world) conversations(userID string) []conversationView {
	w.mu.Lock()
	defer w.mu.Unlock()
	var mine []*conversation
	for _, c := range w.convs {
		if slices.Contains(c.participants, userID) {
			mine = append(mine, c)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		return mine[i].lastAt().After(mine[j].lastAt())
	})
	out := make([]conversationView, 0, len(mine))
	for _, c := range mine {
		out = append(out, w.viewLocked(c, userID))
	}
	return out
}

func (w *world) conversationLocked(id, userID string) (*conversation, error) {
	c, ok := w.convs[id]
	if !ok {
		return nil, errNotFound
	}
	if !slices.Contains(c.participants, userID) {
		return nil, errForbidden
	}
	return c, nil
}

// readMessages returns a conversation's history for userID and marks the
// messages others sent as READ. The returned updates are the messages whose
// status changed.
func (w *world) readMessages(convID, userID string) ([]message, []message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, err := w.conversationLocked(convID, userID)
	if err != nil {
		return nil, nil, err
	}
	var updates []message
	for i := range c.messages {
		m := &c.messages[i]
		if m.SenderID != userID && m.Status != "READ" {
			m.Status = "READ"
			updates = append(updates, *m)
		}
	}
	c.unread[userID] = 0
	return slices.Clone(c.messages), updates, nil
}

// send appends a message and returns it with the other participants.
func (w *world) send(convID, senderID, tempID, content, typ string) (message, []string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return message{}, nil, errInvalid
	}
	if typ == "" {
		typ = "TEXT"
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	c, err := w.conversationLocked(convID, senderID)
	if err != nil {
		return message{}, nil, err
	}
	m := message{
		ID:             w.newID(),
		TempID:         tempID,
		ConversationID: c.id,
		SenderID:       senderID,
		Content:        content,
		Type:           typ,
		Status:         "SENT",
		Timestamp:      w.now(),
	}
	if n := len(c.messages); n > 0 && m.Timestamp.Before(c.messages[n-1].Timestamp) {
		m.Timestamp = c.messages[n-1].Timestamp
	}
	c.messages = append(c.messages, m)
	var others []string
	for _, p := range c.participants {
		if p != senderID {
			c.unread[p]++
			others = append(others, p)
		}
	}
	return m, others, nil
}

// create returns the conversation between userID and recipientID, creating
// it when none exists.
func (w *world) create(userID, recipientID string) (conversationView, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.users[recipientID]; !ok || recipientID == userID {
		return conversationView{}, false, errInvalid
	}
	for _, c := range w.convs {
		if len(c.participants) == 2 && slices.Contains(c.participants, userID) && slices.Contains(c.participants, recipientID) {
			return w.viewLocked(c, userID), false, nil
		}
	}
	c := &conversation{
		id:           w.newID(),
		participants: []string{userID, recipientID},
		unread:       make(map[string]int),
		createdAt:    w.now(),
	}
	w.convs[c.id] = c
	return w.viewLocked(c, userID), true, nil
}

// setStatus changes a message's delivery state and returns it.
func (w *world) setStatus(msgID, status string) (message, error) {
	switch status {
	case "SENT", "DELIVERED", "READ":
	default:
		return message{}, errInvalid
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.convs {
		for i := range c.messages {
			if c.messages[i].ID == msgID {
				c.messages[i].Status = status
				return c.messages[i], nil
			}
		}
	}
	return message{}, errNotFound
}
