package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/bolechat/internal/bus"
	"go.uber.org/zap"
)

// Backend is the REST collaborator: it serves snapshots and accepts sends.
type Backend interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	SendMessage(ctx context.Context, conversationID, tempID, content string, typ MessageType) (*Message, error)
	CreateConversation(ctx context.Context, recipientID string) (*Conversation, error)
}

// Event kinds published by the Store.
const (
	EventConversationsLoaded = "conversation.loaded"
	EventConversationUpdated = "conversation.updated"
	EventMessagesLoaded      = "message.loaded"
	EventMessageUpserted     = "message.upserted"
	EventMessageStatus       = "message.status_changed"
	EventSendAck             = "message.send_ack"
	EventSendFailed          = "message.send_failed"
	EventMessageDiscarded    = "message.discarded"
)

// Change is the payload of every event the Store publishes.
type Change struct {
	ConversationID string
	MessageID      string
	TempID         string
	Error          string
}

// errMalformedReply is returned when the backend acknowledges a send
// without a server id.
var errMalformedReply = errors.New("send reply carries no message id")

// errMalformedSnapshot is returned when a loaded message carries no id.
var errMalformedSnapshot = errors.New("snapshot message carries no id")

// Store is the single source of truth for conversation and message state.
// Each mutation is atomic with respect to the in-memory state; network calls
// run outside the lock, so push events may interleave with an in-flight send.
type Store struct {
	mu            sync.RWMutex
	backend       Backend
	bus           *bus.Bus
	logger        *zap.Logger
	selfID        string
	conversations []Conversation
	messages      map[string][]Message
	current       string
	lastErr       error
	// generation counts Resets; a network call started before a Reset
	// must not write into the new session.
	generation uint64

	newID func() string
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSelf sets the id of the signed-in user.
func WithSelf(userID string) Option {
	return func(s *Store) { s.selfID = userID }
}

// WithClock overrides the clock used to stamp optimistic messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides how temporary message ids are minted.
func WithIDGenerator(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// NewStore creates an empty store. b and logger may be nil.
func NewStore(backend Backend, b *bus.Bus, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend:  backend,
		bus:      b,
		logger:   logger,
		messages: make(map[string][]Message),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSelf changes the signed-in user id, e.g. after a new login.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	s.selfID = userID
	s.mu.Unlock()
}

// Self returns the signed-in user id.
func (s *Store) Self() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfID
}

// Restore seeds an empty store from a cached snapshot. It is a no-op once
// the store holds any conversation.
func (s *Store) Restore(convs []Conversation, msgs map[string][]Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conversations) > 0 {
		return false
	}
	s.conversations = cloneConversations(convs)
	for id, list := range msgs {
		s.messages[id] = normalizeSnapshot(id, list)
	}
	return true
}

// LoadConversations replaces the conversation list with the backend
// snapshot, keeping its order. On failure the previous list is kept.
func (s *Store) LoadConversations(ctx context.Context) error {
	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	s.conversations = cloneConversations(convs)
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Debug("conversations loaded", zap.Int("count", len(convs)))
	s.publish(EventConversationsLoaded, Change{})
	return nil
}

// LoadMessages replaces one conversation's messages with the backend
// snapshot. Local placeholders the snapshot does not confirm are kept so an
// unsent or failed message is never lost. On failure nothing changes.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) error {
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()
	msgs, err := s.backend.ListMessages(ctx, conversationID)
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("load messages for %s: %w", conversationID, err)
	}
	if slices.ContainsFunc(msgs, func(m Message) bool { return m.Ref.ID() == "" }) {
		s.setErr(errMalformedSnapshot)
		return fmt.Errorf("load messages for %s: %w", conversationID, errMalformedSnapshot)
	}
	snapshot := normalizeSnapshot(conversationID, msgs)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil
	}
	for _, old := range s.messages[conversationID] {
		if !old.Ref.IsPending() {
			continue
		}
		if indexByTempID(snapshot, old.Ref.TempID()) >= 0 {
			continue
		}
		snapshot = insertOrdered(snapshot, old)
	}
	s.messages[conversationID] = snapshot
	s.lastErr = nil
	s.mu.Unlock()

	s.publish(EventMessagesLoaded, Change{ConversationID: conversationID})
	return nil
}

// SendMessage inserts an optimistic message and sends it. On success the
// placeholder is replaced in place by the server copy. On failure it stays
// in the list as StatusFailed and a *SendError is returned.
func (s *Store) SendMessage(ctx context.Context, conversationID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyContent
	}
	return s.SendWithTempID(ctx, conversationID, s.newID(), content)
}

// SendWithTempID is SendMessage with a caller-chosen temporary id, used when
// the id was minted before the send was queued.
func (s *Store) SendWithTempID(ctx context.Context, conversationID, tempID, content string) (Message, error) {
	s.mu.Lock()
	gen := s.generation
	placeholder := Message{
		Ref:            Pending(tempID),
		ConversationID: conversationID,
		SenderID:       s.selfID,
		Content:        content,
		Type:           TypeText,
		Status:         StatusSending,
		Timestamp:      s.now(),
	}
	list := s.messages[conversationID]
	if i := indexPending(list, tempID); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	s.messages[conversationID] = insertOrdered(list, placeholder)
	s.touchLocked(placeholder)
	s.lastErr = nil
	s.mu.Unlock()
	s.publish(EventMessageUpserted, Change{ConversationID: conversationID, TempID: tempID})

	sent, err := s.backend.SendMessage(ctx, conversationID, tempID, content, TypeText)
	if err == nil && (sent == nil || sent.Ref.IsPending()) {
		err = errMalformedReply
	}
	if err != nil {
		return s.failSend(gen, conversationID, tempID, content, err)
	}

	confirmed := *sent
	confirmed.Ref = confirmed.Ref.WithOrigin(tempID)
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conversationID
	}
	if confirmed.Timestamp.IsZero() {
		confirmed.Timestamp = placeholder.Timestamp
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug("dropping send confirmed after reset", zap.String("temp_id", tempID))
		return confirmed, nil
	}
	s.applyLocked(confirmed)
	s.touchLocked(confirmed)
	s.mu.Unlock()

	s.logger.Debug("message confirmed",
		zap.String("conversation_id", conversationID),
		zap.String("temp_id", tempID),
		zap.String("message_id", confirmed.Ref.ServerID()))
	s.publish(EventSendAck, Change{ConversationID: conversationID, MessageID: confirmed.Ref.ServerID(), TempID: tempID})
	return confirmed, nil
}

func (s *Store) failSend(gen uint64, conversationID, tempID, content string, cause error) (Message, error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return Message{}, &SendError{ConversationID: conversationID, TempID: tempID, Content: content, Err: cause}
	}
	list := s.messages[conversationID]
	i := indexPending(list, tempID)
	if i < 0 {
		// The push echo already confirmed this send; the failure was only
		// on the REST leg.
		if j := indexByTempID(list, tempID); j >= 0 {
			m := list[j]
			s.mu.Unlock()
			return m, nil
		}
	} else {
		list[i].Status = StatusFailed
		s.refreshLastLocked(list[i])
	}
	s.lastErr = cause
	s.mu.Unlock()

	s.logger.Warn("send failed",
		zap.String("conversation_id", conversationID),
		zap.String("temp_id", tempID),
		zap.Error(cause))
	s.publish(EventSendFailed, Change{ConversationID: conversationID, TempID: tempID, Error: cause.Error()})
	return Message{}, &SendError{ConversationID: conversationID, TempID: tempID, Content: content, Err: cause}
}

// RetryMessage re-sends a failed placeholder under the same temporary id.
func (s *Store) RetryMessage(ctx context.Context, tempID string) (Message, error) {
	s.mu.Lock()
	m, ok := s.findPendingLocked(tempID)
	if !ok {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("retry %s: %w", tempID, ErrNotFound)
	}
	if m.Status != StatusFailed {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("retry %s: %w", tempID, ErrNotFailed)
	}
	s.setPendingStatusLocked(m.ConversationID, tempID, StatusSending)
	s.mu.Unlock()

	return s.SendWithTempID(ctx, m.ConversationID, tempID, m.Content)
}

// DiscardMessage drops a failed placeholder and returns its content so the
// caller can put it back into the input.
func (s *Store) DiscardMessage(tempID string) (string, error) {
	s.mu.Lock()
	m, ok := s.findPendingLocked(tempID)
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("discard %s: %w", tempID, ErrNotFound)
	}
	if m.Status != StatusFailed {
		s.mu.Unlock()
		return "", fmt.Errorf("discard %s: %w", tempID, ErrNotFailed)
	}
	list := s.messages[m.ConversationID]
	i := indexPending(list, tempID)
	list = slices.Delete(list, i, i+1)
	s.messages[m.ConversationID] = list

	if ci := s.indexConversationLocked(m.ConversationID); ci >= 0 {
		c := &s.conversations[ci]
		if c.LastMessage != nil && sameMessage(*c.LastMessage, m) {
			c.LastMessage = nil
			if n := len(list); n > 0 {
				last := list[n-1]
				c.LastMessage = &last
			}
			s.relocateLocked(ci)
		}
	}
	s.mu.Unlock()

	s.publish(EventMessageDiscarded, Change{ConversationID: m.ConversationID, TempID: tempID})
	return m.Content, nil
}

// ReceiveMessage applies a pushed message. It is idempotent per server id,
// replaces the placeholder of a local send when the echo carries its
// temporary id, and moves the conversation to the front when the message is
// its newest.
func (s *Store) ReceiveMessage(m Message) {
	if m.ConversationID == "" || m.Ref.IsPending() {
		s.logger.Debug("dropping pushed message without ids", zap.Stringer("ref", m.Ref))
		return
	}

	s.mu.Lock()
	changed := s.applyLocked(m)
	if changed {
		s.touchLocked(m)
		if m.SenderID != s.selfID && m.ConversationID != s.current {
			if i := s.indexConversationLocked(m.ConversationID); i >= 0 {
				s.conversations[i].UnreadCount++
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.publish(EventMessageUpserted, Change{
			ConversationID: m.ConversationID,
			MessageID:      m.Ref.ServerID(),
			TempID:         m.Ref.TempID(),
		})
	}
}

// UpdateMessageStatus sets the status of the message with the given server
// id wherever it is held. A miss is not an error: the event may refer to a
// conversation that has not been loaded yet.
func (s *Store) UpdateMessageStatus(messageID string, status Status) {
	if messageID == "" {
		return
	}
	var hit string

	s.mu.Lock()
	for cid, list := range s.messages {
		for i := range list {
			if list[i].Ref.ServerID() != messageID {
				continue
			}
			list[i].Status = status
			s.refreshLastLocked(list[i])
			hit = cid
		}
	}
	s.mu.Unlock()

	if hit != "" {
		s.publish(EventMessageStatus, Change{ConversationID: hit, MessageID: messageID})
	}
}

// CreateConversation starts a conversation with recipientID, puts it at the
// front of the list and makes it current.
func (s *Store) CreateConversation(ctx context.Context, recipientID string) (Conversation, error) {
	if recipientID == "" {
		return Conversation{}, fmt.Errorf("create conversation: empty recipient")
	}
	conv, err := s.backend.CreateConversation(ctx, recipientID)
	if err == nil && (conv == nil || conv.ID == "") {
		err = errors.New("create reply carries no conversation id")
	}
	if err != nil {
		s.setErr(err)
		return Conversation{}, fmt.Errorf("create conversation with %s: %w", recipientID, err)
	}

	c := conv.clone()
	s.mu.Lock()
	if i := s.indexConversationLocked(c.ID); i >= 0 {
		s.conversations = slices.Delete(s.conversations, i, i+1)
	}
	s.conversations = slices.Insert(s.conversations, 0, c)
	if _, ok := s.messages[c.ID]; !ok {
		s.messages[c.ID] = []Message{}
	}
	s.current = c.ID
	s.lastErr = nil
	s.mu.Unlock()

	s.publish(EventConversationUpdated, Change{ConversationID: c.ID})
	return c.clone(), nil
}

// SetCurrentConversation marks the conversation the user has open and
// clears its unread count. An empty id closes it.
func (s *Store) SetCurrentConversation(id string) {
	s.mu.Lock()
	s.current = id
	reset := false
	if i := s.indexConversationLocked(id); i >= 0 && s.conversations[i].UnreadCount > 0 {
		s.conversations[i].UnreadCount = 0
		reset = true
	}
	s.mu.Unlock()

	if reset {
		s.publish(EventConversationUpdated, Change{ConversationID: id})
	}
}

// Current returns the id of the open conversation, if any.
func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Conversations returns a copy of the conversation list, most recent first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConversations(s.conversations)
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexConversationLocked(id); i >= 0 {
		return s.conversations[i].clone(), true
	}
	return Conversation{}, false
}

// Messages returns a copy of a conversation's messages in timestamp order.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages[conversationID])
}

// LastError returns the error of the most recent failed operation.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ClearError resets LastError.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

// Reset drops every conversation and message, e.g. when a different user
// signs in on the same session.
func (s *Store) Reset() {
	s.mu.Lock()
	s.conversations = nil
	s.messages = make(map[string][]Message)
	s.current = ""
	s.lastErr = nil
	s.generation++
	s.mu.Unlock()
	s.publish(EventConversationsLoaded, Change{})
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Store) publish(kind string, c Change) {
	s.bus.Publish(bus.Event{Kind: kind, Payload: c})
}

// applyLocked merges a confirmed message into its conversation list and
// reports whether the list changed.
func (s *Store) applyLocked(m Message) bool {
	cid := m.ConversationID
	list := s.messages[cid]
	tempID := m.Ref.TempID()

	if i := indexByServerID(list, m.Ref.ServerID()); i >= 0 {
		if tempID == "" {
			return false
		}
		// Both the echo and the REST reply arrived; drop the placeholder.
		j := indexPending(list, tempID)
		if j < 0 {
			return false
		}
		s.messages[cid] = slices.Delete(list, j, j+1)
		return true
	}

	if tempID != "" {
		if j := indexPending(list, tempID); j >= 0 {
			list[j] = m
			s.messages[cid] = reposition(list, j)
			return true
		}
	}

	s.messages[cid] = insertOrdered(list, m)
	return true
}

// touchLocked makes m the conversation's last message when it is at least
// as recent as the current one, then relocates the conversation. An unknown
// conversation is created from the message.
func (s *Store) touchLocked(m Message) {
	i := s.indexConversationLocked(m.ConversationID)
	if i < 0 {
		s.conversations = append(s.conversations, Conversation{
			ID:           m.ConversationID,
			Participants: participants(m.SenderID, s.selfID),
		})
		i = len(s.conversations) - 1
	}
	c := &s.conversations[i]
	if c.LastMessage != nil && !sameMessage(*c.LastMessage, m) && m.Timestamp.Before(c.LastMessage.Timestamp) {
		return
	}
	last := m
	c.LastMessage = &last
	s.relocateLocked(i)
}

// relocateLocked moves conversation i to the first slot whose occupant is
// not more recent. For new activity that is the front: remove + unshift.
// After a discard falls back to an older message it can move down.
func (s *Store) relocateLocked(i int) {
	c := s.conversations[i]
	at := c.lastAt()
	s.conversations = slices.Delete(s.conversations, i, i+1)
	j := 0
	for j < len(s.conversations) && s.conversations[j].lastAt().After(at) {
		j++
	}
	s.conversations = slices.Insert(s.conversations, j, c)
}

// refreshLastLocked updates the conversation's last-message copy if it is m.
func (s *Store) refreshLastLocked(m Message) {
	i := s.indexConversationLocked(m.ConversationID)
	if i < 0 {
		return
	}
	if last := s.conversations[i].LastMessage; last != nil && sameMessage(*last, m) {
		cp := m
		s.conversations[i].LastMessage = &cp
	}
}

func (s *Store) findPendingLocked(tempID string) (Message, bool) {
	for cid, list := range s.messages {
		if i := indexPending(list, tempID); i >= 0 {
			m := list[i]
			m.ConversationID = cid
			return m, true
		}
	}
	return Message{}, false
}

func (s *Store) setPendingStatusLocked(conversationID, tempID string, st Status) {
	list := s.messages[conversationID]
	if i := indexPending(list, tempID); i >= 0 {
		list[i].Status = st
		s.refreshLastLocked(list[i])
	}
}

func (s *Store) indexConversationLocked(id string) int {
	return slices.IndexFunc(s.conversations, func(c Conversation) bool { return c.ID == id })
}

func indexByServerID(list []Message, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(list, func(m Message) bool { return m.Ref.ServerID() == id })
}

func indexPending(list []Message, tempID string) int {
	if tempID == "" {
		return -1
	}
	return slices.IndexFunc(list, func(m Message) bool {
		return m.Ref.IsPending() && m.Ref.TempID() == tempID
	})
}

func indexByTempID(list []Message, tempID string) int {
	if tempID == "" {
		return -1
	}
	return slices.IndexFunc(list, func(m Message) bool { return m.Ref.TempID() == tempID })
}

// insertOrdered inserts m after every entry with a timestamp not after it,
// so equal timestamps keep arrival order. Scans from the tail since new
// messages are almost always the newest.
func insertOrdered(list []Message, m Message) []Message {
	i := len(list)
	for i > 0 && list[i-1].Timestamp.After(m.Timestamp) {
		i--
	}
	return slices.Insert(list, i, m)
}

// reposition restores timestamp order after list[i] changed in place.
func reposition(list []Message, i int) []Message {
	m := list[i]
	before := i == 0 || !list[i-1].Timestamp.After(m.Timestamp)
	after := i == len(list)-1 || !m.Timestamp.After(list[i+1].Timestamp)
	if before && after {
		return list
	}
	return insertOrdered(slices.Delete(list, i, i+1), m)
}

func normalizeSnapshot(conversationID string, msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.Ref.ID() == "" {
			continue
		}
		if id := m.Ref.ServerID(); id != "" {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b Message) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

func sameMessage(a, b Message) bool {
	if a.Ref.ServerID() != "" && a.Ref.ServerID() == b.Ref.ServerID() {
		return true
	}
	return a.Ref.TempID() != "" && a.Ref.TempID() == b.Ref.TempID()
}

func participants(sender, self string) []string {
	var out []string
	for _, id := range []string{sender, self} {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func cloneConversations(in []Conversation) []Conversation {
	out := make([]Conversation, len(in))
	for i, c := range in {
		out[i] = c.clone()
	}
	return out
}
