package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	ErrNotConnected   = errors.New("push channel not connected")
	ErrAlreadyRunning = errors.New("push channel already running")
	ErrUnauthorized   = errors.New("push channel rejected token")
)

// Handler receives what happens on the connection. Calls are made from the
// connection's own goroutine, one at a time.
type Handler interface {
	HandleFrame(Frame)
	Connected()
	Disconnected(err error)
	Unauthorized()
}

// Options configures a Conn.
type Options struct {
	URL string
	// Token supplies the bearer token for each dial; it is read again on
	// every reconnect.
	Token      func() string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// Conn is the real-time push connection. It is an explicitly owned
// resource: nothing is dialed until Connect and Close releases everything.
// A dropped connection is redialed with exponential backoff until Close or
// until the server rejects the token.
type Conn struct {
	opts    Options
	handler Handler
	logger  *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	writeMu sync.Mutex
}

// New creates an unconnected Conn.
func New(opts Options, h Handler, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	return &Conn{opts: opts, handler: h, logger: logger}
}

// Connect starts the connection loop in the background. It fails only if
// the loop is already running or the URL is unusable.
func (c *Conn) Connect() error {
	if _, err := c.endpoint(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Close stops the loop and closes the socket. It is safe to call when not
// connected.
func (c *Conn) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the connection loop is active.
func (c *Conn) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Connected reports whether a socket is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Emit writes one frame to the server.
func (c *Conn) Emit(event string, data any) error {
	f, err := NewFrame(event, data)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(f)
}

func (c *Conn) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socket url %q: unsupported scheme", c.opts.URL)
	}
	if tok := c.opts.Token(); tok != "" {
		q := u.Query()
		q.Set("token", tok)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return ws, nil
}

func (c *Conn) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := c.opts.MinBackoff
	for {
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrUnauthorized) {
				c.logger.Warn("push channel rejected token")
				c.handler.Unauthorized()
				c.detach()
				return
			}
			c.logger.Debug("push channel dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}

		backoff = c.opts.MinBackoff
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.logger.Info("push channel connected")
		c.handler.Connected()

		err = c.serve(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("push channel dropped", zap.Error(err))
		c.handler.Disconnected(err)
		if !sleep(ctx, backoff) {
			return
		}
	}
}

// detach clears the running state when the loop exits on its own.
func (c *Conn) detach() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
}

// serve reads frames until the socket fails or ctx ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ctx, ws, stop)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.logger.Warn("skipping unreadable push frame", zap.Int("bytes", len(data)))
			continue
		}
		c.handler.HandleFrame(f)
	}
}

// keepalive pings the server and closes ws once ctx ends.
func (c *Conn) keepalive(ctx context.Context, ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			ws.Close()
			return
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			ws.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				ws.Close()
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
