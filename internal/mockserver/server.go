// Package mockserver is a development stand-in for the recruitment
// backend's chat API: REST under /api, push frames under /ws, HS256 tokens.
// State lives in memory.
package mockserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/matheus3301/bolechat/internal/realtime"
	"go.uber.org/zap"
)

type Options struct {
	Secret         []byte
	TokenTTL       time.Duration
	Users          []User
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server is the development backend. It is an http.Handler.
type Server struct {
	router    chi.Router
	world     *world
	hub       *Hub
	tokens    *TokenService
	logger    *zap.Logger
	failSends atomic.Bool
	origins   []string
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("bolechat-dev-secret")
	}
	if opts.Users == nil {
		opts.Users = DefaultUsers()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		world:   newWorld(opts.Users),
		hub:     NewHub(opts.Logger.Named("hub")),
		tokens:  NewTokenService(opts.Secret, opts.TokenTTL),
		logger:  opts.Logger,
		origins: opts.AllowedOrigins,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// TokenFor issues a token for the named user.
func (s *Server) TokenFor(username string) (string, error) {
	u, ok := s.world.userByName(username)
	if !ok {
		return "", errNotFound
	}
	return s.tokens.Issue(u)
}

// SetFailSends makes every send answer 503 until turned off again.
func (s *Server) SetFailSends(fail bool) { s.failSends.Store(fail) }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/auth/me", s.handleMe)
			r.Route("/chats", func(r chi.Router) {
				r.Get("/conversations", s.handleListConversations)
				r.Post("/conversations", s.handleCreateConversation)
				r.Get("/conversations/{conversationID}/messages", s.handleListMessages)
				r.Post("/conversations/{conversationID}/messages", s.handleSendMessage)
				r.Put("/messages/{messageID}/status", s.handleSetStatus)
			})
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/fail-sends", s.handleFailSends)
		r.Post("/conversations/{conversationID}/messages", s.handleAdminSend)
	})

	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeWorldError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *Server) handleFailSends(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.SetFailSends(req.Enabled)
	s.logger.Info("send failures toggled", zap.Bool("enabled", req.Enabled))
	writeJSON(w, http.StatusOK, req)
}

// handleAdminSend posts a message on behalf of any participant, standing in
// for the other side of a conversation.
func (s *Server) handleAdminSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID string `json:"senderId"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	m, err := s.deliver(chi.URLParam(r, "conversationID"), req.SenderID, "", req.Content, "")
	if err != nil {
		writeWorldError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// deliver stores a message and pushes it to every participant, the sender
// included so other sessions of the sender see it too. Recipients with an
// open socket get it DELIVERED right away.
func (s *Server) deliver(convID, senderID, tempID, content, typ string) (message, error) {
	m, others, err := s.world.send(convID, senderID, tempID, content, typ)
	if err != nil {
		return message{}, err
	}
	s.hub.Push(append([]string{senderID}, others...), realtime.FrameNewMessage, m)

	for _, uid := range others {
		if s.hub.Online(uid) {
			if updated, err := s.world.setStatus(m.ID, "DELIVERED"); err == nil {
				m = updated
				s.pushStatus(m)
			}
			break
		}
	}
	return m, nil
}

func (s *Server) pushStatus(m message) {
	s.hub.Push([]string{m.SenderID}, realtime.FrameMessageStatus, map[string]string{
		"messageId": m.ID,
		"status":    m.Status,
	})
}
