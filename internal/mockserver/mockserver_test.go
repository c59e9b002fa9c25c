package mockserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{Secret: []byte("test-secret"), TokenTTL: time.Hour})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv
}

func loginClient(t *testing.T, srv *httptest.Server, user string) (*backend.Client, *backend.Session) {
	t.Helper()
	c, err := backend.New(srv.URL+"/api", backend.Options{}, nil)
	require.NoError(t, err)
	sess, err := c.Login(context.Background(), user, user)
	require.NoError(t, err)
	return c, sess
}

type frameRecorder struct {
	frames    chan realtime.Frame
	connected chan struct{}
	rejected  chan struct{}
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{
		frames:    make(chan realtime.Frame, 16),
		connected: make(chan struct{}, 4),
		rejected:  make(chan struct{}, 1),
	}
}

func (r *frameRecorder) HandleFrame(f realtime.Frame) { r.frames <- f }
func (r *frameRecorder) Connected()                   { r.connected <- struct{}{} }
func (r *frameRecorder) Disconnected(error)           {}
func (r *frameRecorder) Unauthorized()                { r.rejected <- struct{}{} }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestTokenRoundTrip(t *testing.T) {
	ts := NewTokenService([]byte("k"), time.Minute)
	raw, err := ts.Issue(DefaultUsers()[1])
	require.NoError(t, err)

	uid, err := ts.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-ana", uid)

	claims, err := backend.ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-ana", claims.UserID)

	_, err = NewTokenService([]byte("other"), time.Minute).Verify(raw)
	assert.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	ts := NewTokenService([]byte("k"), time.Minute)
	raw, err := ts.IssueWithTTL(DefaultUsers()[0], -time.Minute)
	require.NoError(t, err)
	_, err = ts.Verify(raw)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	_, srv := startServer(t)
	c, err := backend.New(srv.URL+"/api", backend.Options{}, nil)
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "ana", "nope")
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
}

func TestRequiresBearer(t *testing.T) {
	_, srv := startServer(t)
	c, err := backend.New(srv.URL+"/api", backend.Options{}, nil)
	require.NoError(t, err)
	_, err = c.ListConversations(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
}

func TestConversationFlow(t *testing.T) {
	_, srv := startServer(t)
	ctx := context.Background()
	rita, ritaSess := loginClient(t, srv, "recruiter")
	ana, anaSess := loginClient(t, srv, "ana")
	assert.Equal(t, "u-recruiter", ritaSess.UserID)

	conv, err := rita.CreateConversation(ctx, anaSess.UserID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u-recruiter", "u-ana"}, conv.Participants)

	again, err := ana.CreateConversation(ctx, "recruiter")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID, "the pair shares one conversation")

	sent, err := rita.SendMessage(ctx, conv.ID, "tmp-1", "hello", chat.TypeText)
	require.NoError(t, err)
	assert.False(t, sent.Ref.IsPending())
	assert.Equal(t, "tmp-1", sent.Ref.TempID())
	assert.Equal(t, chat.StatusSent, sent.Status)

	convs, err := ana.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "hello", convs[0].LastMessage.Content)

	msgs, err := ana.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.StatusRead, msgs[0].Status)

	convs, err = ana.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount)
}

func TestOutsiderIsForbidden(t *testing.T) {
	_, srv := startServer(t)
	ctx := context.Background()
	rita, _ := loginClient(t, srv, "recruiter")
	bruno, _ := loginClient(t, srv, "bruno")

	conv, err := rita.CreateConversation(ctx, "u-ana")
	require.NoError(t, err)

	_, err = bruno.ListMessages(ctx, conv.ID)
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestFailSends(t *testing.T) {
	s, srv := startServer(t)
	ctx := context.Background()
	rita, _ := loginClient(t, srv, "recruiter")
	conv, err := rita.CreateConversation(ctx, "u-ana")
	require.NoError(t, err)

	s.SetFailSends(true)
	_, err = rita.SendMessage(ctx, conv.ID, "tmp-1", "hi", chat.TypeText)
	assert.ErrorIs(t, err, backend.ErrTransport)

	resp, err := http.Post(srv.URL+"/admin/fail-sends", "application/json", bytes.NewBufferString(`{"enabled":false}`))
	require.NoError(t, err)
	resp.Body.Close()
	_, err = rita.SendMessage(ctx, conv.ID, "tmp-2", "hi", chat.TypeText)
	assert.NoError(t, err)
}

func TestPushDeliversToBothSides(t *testing.T) {
	s, srv := startServer(t)
	ctx := context.Background()
	rita, ritaSess := loginClient(t, srv, "recruiter")
	_, anaSess := loginClient(t, srv, "ana")
	conv, err := rita.CreateConversation(ctx, "u-ana")
	require.NoError(t, err)

	ritaRec, anaRec := newFrameRecorder(), newFrameRecorder()
	ritaConn := realtime.New(realtime.Options{URL: srv.URL + "/ws", Token: func() string { return ritaSess.Token }}, ritaRec, nil)
	anaConn := realtime.New(realtime.Options{URL: srv.URL + "/ws", Token: func() string { return anaSess.Token }}, anaRec, nil)
	require.NoError(t, ritaConn.Connect())
	require.NoError(t, anaConn.Connect())
	t.Cleanup(ritaConn.Close)
	t.Cleanup(anaConn.Close)
	recv(t, ritaRec.connected)
	recv(t, anaRec.connected)
	require.Eventually(t, func() bool {
		return s.hub.Online(ritaSess.UserID) && s.hub.Online(anaSess.UserID)
	}, 3*time.Second, 10*time.Millisecond)

	_, err = rita.SendMessage(ctx, conv.ID, "tmp-9", "are you there?", chat.TypeText)
	require.NoError(t, err)

	f := recv(t, anaRec.frames)
	require.Equal(t, realtime.FrameNewMessage, f.Event)
	m, err := backend.DecodeMessage(f.Data)
	require.NoError(t, err)
	assert.Equal(t, "are you there?", m.Content)
	assert.Equal(t, "u-recruiter", m.SenderID)

	echo := recv(t, ritaRec.frames)
	require.Equal(t, realtime.FrameNewMessage, echo.Event)
	em, err := backend.DecodeMessage(echo.Data)
	require.NoError(t, err)
	assert.Equal(t, "tmp-9", em.Ref.TempID())

	// ana is online, so the send is marked delivered
	st := recv(t, ritaRec.frames)
	require.Equal(t, realtime.FrameMessageStatus, st.Event)
	u, err := backend.DecodeStatus(st.Data)
	require.NoError(t, err)
	assert.Equal(t, em.Ref.ServerID(), u.MessageID)
	assert.Equal(t, chat.StatusDelivered, u.Status)
}

func TestSocketRejectsBadToken(t *testing.T) {
	_, srv := startServer(t)
	rec := newFrameRecorder()
	conn := realtime.New(realtime.Options{URL: srv.URL + "/ws", Token: func() string { return "garbage" }}, rec, nil)
	require.NoError(t, conn.Connect())
	t.Cleanup(conn.Close)
	recv(t, rec.rejected)
}

func TestTokenForSeededUser(t *testing.T) {
	s, srv := startServer(t)
	raw, err := s.TokenFor("bruno")
	require.NoError(t, err)

	c, err := backend.New(srv.URL+"/api", backend.Options{}, nil)
	require.NoError(t, err)
	c.SetToken(raw)
	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)

	_, err = s.TokenFor("nobody")
	assert.Error(t, err)
}
