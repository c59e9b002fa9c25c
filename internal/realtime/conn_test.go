package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recorder struct {
	frames       chan Frame
	connected    chan struct{}
	disconnected chan error
	unauthorized chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		frames:       make(chan Frame, 16),
		connected:    make(chan struct{}, 16),
		disconnected: make(chan error, 16),
		unauthorized: make(chan struct{}, 1),
	}
}

func (r *recorder) HandleFrame(f Frame) { r.frames <- f }
func (r *recorder) Connected() { r.connected <- struct{}{} }
func (r *recorder) Disconnected(err error) { r.disconnected <- err }
func (r *recorder) Unauthorized() { r.unauthorized <- struct{}{} }

func wait[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
	var zero T
	return zero
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// pushServer upgrades every request and hands the socket to serve.
func pushServer(t *testing.T, serve func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(ws, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnReceivesFramesAndEmits(t *testing.T) {
	got := make(chan Frame, 1)
	tokens := make(chan string, 1)
	srv := pushServer(t, func(ws *websocket.Conn, r *http.Request) {
		defer ws.Close()
		tokens <- r.URL.Query().Get("token")
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"newMessage","data":{"id":"m1"}}`))
		var f Frame
		if err := ws.ReadJSON(&f); err == nil {
			got <- f
		}
		_, _, _ = ws.ReadMessage()
	})

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv), Token: func() string { return "tok" }}, rec, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	wait(t, rec.connected, "connect")
	if tok := wait(t, tokens, "token"); tok != "tok" {
		t.Errorf("token = %q, want tok", tok)
	}
	f := wait(t, rec.frames, "frame")
	if f.Event != FrameNewMessage {
		t.Errorf("event = %q, want %s", f.Event, FrameNewMessage)
	}

	if err := c.Emit(FrameSendMessage, map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	sent := wait(t, got, "emitted frame")
	var body map[string]string
	if err := json.Unmarshal(sent.Data, &body); err != nil || body["content"] != "hi" {
		t.Errorf("emitted data = %s", sent.Data)
	}
}

func TestConnSkipsGarbageFrames(t *testing.T) {
	srv := pushServer(t, func(ws *websocket.Conn, _ *http.Request) {
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"messageStatus","data":{}}`))
		_, _, _ = ws.ReadMessage()
	})

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv)}, rec, nil)
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	f := wait(t, rec.frames, "frame")
	if f.Event != FrameMessageStatus {
		t.Errorf("first delivered frame = %q, want messageStatus", f.Event)
	}
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	var dials atomic.Int32
	srv := pushServer(t, func(ws *websocket.Conn, _ *http.Request) {
		if dials.Add(1) == 1 {
			ws.Close()
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	})

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv), MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, rec, nil)
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	wait(t, rec.connected, "first connect")
	wait(t, rec.disconnected, "drop")
	wait(t, rec.connected, "reconnect")
	if n := dials.Load(); n < 2 {
		t.Errorf("dials = %d, want >= 2", n)
	}
}

func TestConnStopsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv), MinBackoff: 10 * time.Millisecond}, rec, nil)
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	wait(t, rec.unauthorized, "unauthorized")

	deadline := time.Now().Add(time.Second)
	for c.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Running() {
		t.Error("loop still running after token rejection")
	}
	c.Close()
}

func TestConnCloseAndDoubleConnect(t *testing.T) {
	srv := pushServer(t, func(ws *websocket.Conn, _ *http.Request) {
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	})

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv)}, rec, nil)
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(); err != ErrAlreadyRunning {
		t.Errorf("second Connect = %v, want ErrAlreadyRunning", err)
	}
	wait(t, rec.connected, "connect")

	c.Close()
	if c.Connected() || c.Running() {
		t.Error("Close left the connection open")
	}
	if err := c.Emit(FrameSendMessage, nil); err != ErrNotConnected {
		t.Errorf("Emit after Close = %v, want ErrNotConnected", err)
	}
	select {
	case err := <-rec.disconnected:
		t.Errorf("Close reported as a drop: %v", err)
	default:
	}
	c.Close()
}

func TestConnectRejectsBadURL(t *testing.T) {
	c := New(Options{URL: "ftp://x"}, newRecorder(), nil)
	if err := c.Connect(); err == nil {
		t.Fatal("Connect with ftp url should fail")
	}
}

func TestEndpointMapsHTTPSchemes(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://h/ws", "ws://h/ws?token=t"},
		{"https://h/ws", "wss://h/ws?token=t"},
		{"ws://h/ws?x=1", "ws://h/ws?token=t&x=1"},
	}
	for _, tt := range tests {
		c := New(Options{URL: tt.in, Token: func() string { return "t" }}, nil, nil)
		got, err := c.endpoint()
		if err != nil {
			t.Fatalf("endpoint(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("endpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
