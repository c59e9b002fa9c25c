package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/outbox"
	"github.com/matheus3301/bolechat/internal/rpc"
	"github.com/matheus3301/bolechat/internal/status"
	"github.com/matheus3301/bolechat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fakeBackend struct {
	mu      sync.Mutex
	convs   []chat.Conversation
	msgs    map[string][]chat.Message
	listErr error
	sendErr error
	sent    int
}

func (f *fakeBackend) ListConversations(context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]chat.Conversation(nil), f.convs...), nil
}

func (f *fakeBackend) ListMessages(_ context.Context, id string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]chat.Message(nil), f.msgs[id]...), nil
}

func (f *fakeBackend) SendMessage(_ context.Context, conv, _, content string, typ chat.MessageType) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent++
	return &chat.Message{
		Ref:            chat.Confirmed(fmt.Sprintf("srv-%d", f.sent)),
		ConversationID: conv,
		SenderID:       "me",
		Content:        content,
		Type:           typ,
		Status:         chat.StatusSent,
		Timestamp:      time.Now(),
	}, nil
}

func (f *fakeBackend) CreateConversation(_ context.Context, recipient string) (*chat.Conversation, error) {
	return &chat.Conversation{ID: "c-" + recipient, Participants: []string{"me", recipient}}, nil
}

// storeSyncer reconciles by reloading the conversation list only.
type storeSyncer struct {
	store *chat.Store
	last  time.Time
}

func (s *storeSyncer) Reconcile(ctx context.Context) error {
	if err := s.store.LoadConversations(ctx); err != nil {
		return err
	}
	s.last = time.Now()
	return nil
}

func (s *storeSyncer) LastSynced() time.Time { return s.last }

type fixture struct {
	be      *fakeBackend
	bus     *bus.Bus
	db      *store.DB
	store   *chat.Store
	machine *status.Machine
	convs   *ConversationService
	msgs    *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		be:      &fakeBackend{msgs: map[string][]chat.Message{}},
		bus:     bus.New(),
		db:      db,
		machine: status.NewMachine(nil),
	}
	f.store = chat.NewStore(f.be, f.bus, nil, chat.WithSelf("me"))
	sender := outbox.NewSender(db, f.store, time.Hour, time.Hour, nil)
	f.convs = NewConversationService(f.store, &storeSyncer{store: f.store}, f.bus, nil)
	f.msgs = NewMessageService(f.store, sender, db, f.bus)
	return f
}

func code(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestCreateSendAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.convs.Create(ctx, &rpc.CreateConversationRequest{RecipientID: " u2 "})
	require.NoError(t, err)
	assert.Equal(t, "c-u2", created.Conversation.ID)

	sent, err := f.msgs.Send(ctx, &rpc.SendMessageRequest{ConversationID: "c-u2", Content: "hello"})
	require.NoError(t, err)
	assert.False(t, sent.Failed)
	assert.Equal(t, "srv-1", sent.Message.ID)
	assert.NotEmpty(t, sent.Message.TempID)

	list, err := f.msgs.List(ctx, &rpc.ListMessagesRequest{ConversationID: "c-u2"})
	require.NoError(t, err)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "hello", list.Messages[0].Content)
	assert.False(t, list.HasMore)

	convs, err := f.convs.List(ctx, &rpc.ListConversationsRequest{})
	require.NoError(t, err)
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, "c-u2", convs.Current)
	require.NotNil(t, convs.Conversations[0].LastMessage)
	assert.Equal(t, "hello", convs.Conversations[0].LastMessage.Content)
}

func TestSendFailureReturnsFailedPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.convs.Create(ctx, &rpc.CreateConversationRequest{RecipientID: "u2"})
	require.NoError(t, err)
	f.be.sendErr = &backend.StatusError{Code: 503, Message: "down"}

	resp, err := f.msgs.Send(ctx, &rpc.SendMessageRequest{ConversationID: "c-u2", Content: "try me"})
	require.NoError(t, err)
	assert.True(t, resp.Failed)
	assert.True(t, resp.Message.Pending)
	assert.Equal(t, string(chat.StatusFailed), resp.Message.Status)
	assert.Equal(t, "try me", resp.Message.Content)

	entry, err := f.db.GetOutbox(resp.Message.TempID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, store.OutboxFailed, entry.Status)

	discarded, err := f.msgs.Discard(ctx, &rpc.DiscardMessageRequest{TempID: resp.Message.TempID})
	require.NoError(t, err)
	assert.Equal(t, "try me", discarded.Content)

	list, err := f.msgs.List(ctx, &rpc.ListMessagesRequest{ConversationID: "c-u2"})
	require.NoError(t, err)
	assert.Empty(t, list.Messages)

	_, err = f.msgs.Discard(ctx, &rpc.DiscardMessageRequest{TempID: resp.Message.TempID})
	assert.Equal(t, codes.NotFound, code(err))
}

func TestRetryConfirmsInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.convs.Create(ctx, &rpc.CreateConversationRequest{RecipientID: "u2"})
	require.NoError(t, err)

	f.be.sendErr = backend.ErrTransport
	failed, err := f.msgs.Send(ctx, &rpc.SendMessageRequest{ConversationID: "c-u2", Content: "again"})
	require.NoError(t, err)
	require.True(t, failed.Failed)

	f.be.sendErr = nil
	retried, err := f.msgs.Retry(ctx, &rpc.RetryMessageRequest{TempID: failed.Message.TempID})
	require.NoError(t, err)
	assert.False(t, retried.Failed)
	assert.Equal(t, failed.Message.TempID, retried.Message.TempID)

	list, err := f.msgs.List(ctx, &rpc.ListMessagesRequest{ConversationID: "c-u2"})
	require.NoError(t, err)
	require.Len(t, list.Messages, 1)
	assert.False(t, list.Messages[0].Pending)

	_, err = f.msgs.Retry(ctx, &rpc.RetryMessageRequest{TempID: failed.Message.TempID})
	assert.Equal(t, codes.NotFound, code(err))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.msgs.Send(ctx, &rpc.SendMessageRequest{ConversationID: "nope", Content: "x"})
	assert.Equal(t, codes.NotFound, code(err))

	_, err = f.convs.Create(ctx, &rpc.CreateConversationRequest{RecipientID: "u2"})
	require.NoError(t, err)
	_, err = f.msgs.Send(ctx, &rpc.SendMessageRequest{ConversationID: "c-u2", Content: "   "})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = f.convs.Create(ctx, &rpc.CreateConversationRequest{})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = f.msgs.Retry(ctx, &rpc.RetryMessageRequest{})
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestListPagesNewestAndCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var history []chat.Message
	for i := 0; i < 5; i++ {
		history = append(history, chat.Message{
			Ref:            chat.Confirmed(fmt.Sprintf("m%d", i)),
			ConversationID: "c1",
			SenderID:       "u2",
			Content:        fmt.Sprintf("line %d", i),
			Type:           chat.TypeText,
			Status:         chat.StatusSent,
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	f.be.convs = []chat.Conversation{{ID: "c1", Participants: []string{"me", "u2"}, LastMessage: &history[4]}}
	f.be.msgs["c1"] = history
	require.NoError(t, f.db.ReplaceMessages("c1", history))

	_, err := f.convs.List(ctx, &rpc.ListConversationsRequest{Refresh: true})
	require.NoError(t, err)

	newest, err := f.msgs.List(ctx, &rpc.ListMessagesRequest{ConversationID: "c1", Refresh: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest.Messages, 2)
	assert.True(t, newest.HasMore)
	assert.Equal(t, "m3", newest.Messages[0].ID)
	assert.Equal(t, "m4", newest.Messages[1].ID)

	older, err := f.msgs.List(ctx, &rpc.ListMessagesRequest{ConversationID: "c1", BeforeMs: newest.Messages[0].TimestampMs, Limit: 2})
	require.NoError(t, err)
	require.Len(t, older.Messages, 2)
	assert.Equal(t, "m1", older.Messages[0].ID)
	assert.Equal(t, "m2", older.Messages[1].ID)
}

func TestOpenLoadsAndResetsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	last := chat.Message{
		Ref: chat.Confirmed("m1"), ConversationID: "c1", SenderID: "u2",
		Content: "ping", Type: chat.TypeText, Status: chat.StatusSent, Timestamp: time.Now(),
	}
	f.be.convs = []chat.Conversation{{ID: "c1", Participants: []string{"me", "u2"}, LastMessage: &last, UnreadCount: 3}}
	f.be.msgs["c1"] = []chat.Message{last}

	_, err := f.convs.List(ctx, &rpc.ListConversationsRequest{Refresh: true})
	require.NoError(t, err)

	opened, err := f.convs.Open(ctx, &rpc.OpenConversationRequest{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 0, opened.Conversation.UnreadCount)
	require.Len(t, opened.Messages, 1)
	assert.Equal(t, "ping", opened.Messages[0].Content)
	assert.Equal(t, "c1", f.store.Current())

	_, err = f.convs.Open(ctx, &rpc.OpenConversationRequest{ConversationID: "missing"})
	assert.Equal(t, codes.NotFound, code(err))
}

func TestOpenFallsBackToHeldMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.convs.Create(ctx, &rpc.CreateConversationRequest{RecipientID: "u2"})
	require.NoError(t, err)
	f.be.listErr = backend.ErrTransport

	opened, err := f.convs.Open(ctx, &rpc.OpenConversationRequest{ConversationID: "c-u2"})
	require.NoError(t, err)
	assert.Empty(t, opened.Messages)

	_, err = f.convs.Open(ctx, &rpc.OpenConversationRequest{ConversationID: "c-u2", Refresh: true})
	assert.Equal(t, codes.Unavailable, code(err))
}

func TestRefreshMapsBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"unauthorized", &backend.StatusError{Code: 401}, codes.Unauthenticated},
		{"server error", &backend.StatusError{Code: 502}, codes.Unavailable},
		{"circuit open", backend.ErrCircuitOpen, codes.Unavailable},
		{"malformed", backend.ErrMalformed, codes.Unavailable},
		{"timeout", context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.be.listErr = tt.err
			_, err := f.convs.List(context.Background(), &rpc.ListConversationsRequest{Refresh: true})
			assert.Equal(t, tt.want, code(err))
		})
	}
}

func TestToStatusClientErrors(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{&backend.StatusError{Code: 404}, codes.NotFound},
		{&backend.StatusError{Code: 403}, codes.PermissionDenied},
		{&backend.StatusError{Code: 422}, codes.InvalidArgument},
		{fmt.Errorf("retry: %w", chat.ErrNotFailed), codes.FailedPrecondition},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := code(toStatus("op", tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.UpsertMessage(chat.Message{
		Ref: chat.Confirmed("m1"), ConversationID: "c1", SenderID: "u2",
		Content: "interview on friday", Type: chat.TypeText, Status: chat.StatusSent, Timestamp: time.Now(),
	}))

	resp, err := f.msgs.Search(ctx, &rpc.SearchMessagesRequest{Query: "friday"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Snippet, "<<friday>>")

	_, err = f.msgs.Search(ctx, &rpc.SearchMessagesRequest{Query: " "})
	assert.Equal(t, codes.InvalidArgument, code(err))
}

type fakeAuth struct {
	token    string
	username string
	loggedIn bool
	err      error
}

func (a *fakeAuth) Login(_ context.Context, token string) (backend.Claims, error) {
	if a.err != nil {
		return backend.Claims{}, a.err
	}
	a.token = token
	a.loggedIn = true
	return backend.Claims{UserID: "u1", ExpiresAt: time.UnixMilli(1_900_000_000_000)}, nil
}

func (a *fakeAuth) LoginWithPassword(_ context.Context, username, _ string) (backend.Claims, error) {
	if a.err != nil {
		return backend.Claims{}, a.err
	}
	a.username = username
	a.loggedIn = true
	return backend.Claims{UserID: "u1", Username: username}, nil
}

func (a *fakeAuth) Logout(context.Context) error {
	a.loggedIn = false
	return nil
}

type fakePush bool

func (p fakePush) Connected() bool { return bool(p) }
func (p fakePush) Running() bool   { return bool(p) }

func TestSessionLoginAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth := &fakeAuth{}
	svc := NewSessionService("main", "http://api", f.machine, f.bus, f.store, f.db, auth, fakePush(true), &storeSyncer{store: f.store})

	_, err := svc.Login(ctx, &rpc.LoginRequest{})
	assert.Equal(t, codes.InvalidArgument, code(err))

	resp, err := svc.Login(ctx, &rpc.LoginRequest{Token: "  tok  "})
	require.NoError(t, err)
	assert.Equal(t, "tok", auth.token)
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, int64(1_900_000_000_000), resp.ExpiresMs)

	_, err = svc.Login(ctx, &rpc.LoginRequest{Username: "ana", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "ana", auth.username)

	auth.err = &backend.StatusError{Code: 401}
	_, err = svc.Login(ctx, &rpc.LoginRequest{Token: "bad"})
	assert.Equal(t, codes.Unauthenticated, code(err))

	_, unsub := f.bus.Subscribe(0, "test.")
	f.bus.Publish(bus.Event{Kind: "test.unread"})
	unsub()

	st, err := svc.Status(ctx, &rpc.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "main", st.Session)
	assert.Equal(t, string(status.Booting), st.State)
	assert.Equal(t, "me", st.UserID)
	assert.True(t, st.PushConnected)
	assert.True(t, st.PushRunning)
	assert.GreaterOrEqual(t, st.DroppedEvents, uint64(1))

	_, err = svc.Logout(ctx, &rpc.LogoutRequest{})
	require.NoError(t, err)
	assert.False(t, auth.loggedIn)
}

type recordStream struct {
	ctx    context.Context
	mu     sync.Mutex
	events []*rpc.Event
}

func (s *recordStream) Context() context.Context { return s.ctx }

func (s *recordStream) Send(e *rpc.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordStream) snapshot() []*rpc.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*rpc.Event(nil), s.events...)
}

func TestMessageWatchAttachesStoredMessage(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	stream := &recordStream{ctx: ctx}
	done := make(chan error, 1)
	go func() { done <- f.msgs.Watch(&rpc.WatchRequest{}, stream) }()

	// Wait for the subscription before producing events.
	require.Eventually(t, func() bool {
		f.bus.Publish(bus.Event{Kind: "message.probe"})
		return len(stream.snapshot()) > 0
	}, time.Second, 5*time.Millisecond)

	_, err := f.convs.Create(context.Background(), &rpc.CreateConversationRequest{RecipientID: "u2"})
	require.NoError(t, err)
	_, err = f.msgs.Send(context.Background(), &rpc.SendMessageRequest{ConversationID: "c-u2", Content: "watch me"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, e := range stream.snapshot() {
			if e.Kind == chat.EventSendAck && e.Message != nil && e.Message.Content == "watch me" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	for _, e := range stream.snapshot() {
		assert.NotEqual(t, chat.EventConversationUpdated, e.Kind, "conversation events leak into message watch")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchRejectsForeignPrefix(t *testing.T) {
	f := newFixture(t)
	err := f.convs.Watch(&rpc.WatchRequest{Prefixes: []string{"message."}}, &recordStream{ctx: context.Background()})
	assert.Equal(t, codes.InvalidArgument, code(err))
}
