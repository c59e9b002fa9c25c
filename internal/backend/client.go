package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64
	Burst             int
	// BreakerFailures is the number of consecutive transport failures that
	// opens the circuit.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	return o
}

// Client talks to the recruitment backend's chat REST API. It implements
// chat.Backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

var _ chat.Backend = (*Client)(nil)

// New creates a client for the API rooted at baseURL (e.g.
// "http://localhost:8080/api").
func New(baseURL string, opts Options, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	c := &Client{
		base:    u,
		http:    hc,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backend",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// Only transport-class failures count against the backend; a 4xx
		// is the caller's problem.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransport)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a session token. The token is installed
// on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var ws wireSession
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{username, password}, &ws); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if ws.Token == "" {
		return nil, fmt.Errorf("login: %w", ErrMalformed)
	}
	s := ws.Session
	s.UserID = string(ws.ID)
	if s.UserID == "" {
		if claims, err := ParseToken(s.Token); err == nil {
			s.UserID = claims.UserID
		}
	}
	c.SetToken(s.Token)
	return &s, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var wire []wireConversation
	if err := c.do(ctx, http.MethodGet, "/chats/conversations", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]chat.Conversation, 0, len(wire))
	for _, w := range wire {
		if w.ID == "" {
			return nil, fmt.Errorf("conversation without id: %w", ErrMalformed)
		}
		out = append(out, w.toChat())
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var wire []wireMessage
	path := "/chats/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(wire))
	for _, w := range wire {
		m := w.toChat()
		if m.Ref.IsPending() {
			return nil, fmt.Errorf("message without id: %w", ErrMalformed)
		}
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, tempID, content string, typ chat.MessageType) (*chat.Message, error) {
	var w wireMessage
	path := "/chats/conversations/" + url.PathEscape(conversationID) + "/messages"
	req := sendRequest{Content: content, Type: string(typ), TempID: tempID}
	if err := c.do(ctx, http.MethodPost, path, req, &w); err != nil {
		return nil, err
	}
	if w.TempID == "" {
		w.TempID = tempID
	}
	m := w.toChat()
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	return &m, nil
}

func (c *Client) CreateConversation(ctx context.Context, recipientID string) (*chat.Conversation, error) {
	var w wireConversation
	if err := c.do(ctx, http.MethodPost, "/chats/conversations", createConversationRequest{recipientID}, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("created conversation without id: %w", ErrMalformed)
	}
	conv := w.toChat()
	return &conv, nil
}

// do performs one JSON request through the rate limiter and circuit
// breaker, decoding a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrTransport)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var eb errorBody
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); len(b) > 0 {
			if json.Unmarshal(b, &eb) == nil {
				se.Message = eb.Message
			}
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrMalformed)
	}
	return nil
}
