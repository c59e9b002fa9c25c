package mockserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ctxKey struct{}

func userFrom(ctx context.Context) User {
	u, _ := ctx.Value(ctxKey{}).(User)
	return u
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		uid, err := s.tokens.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		u, ok := s.world.user(uid)
		if !ok {
			writeError(w, http.StatusUnauthorized, "user not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

type loginResponse struct {
	ID       string   `json:"id"`
	Token    string   `json:"token"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	u, ok := s.world.login(req.Username, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issue token")
		return
	}
	s.logger.Info("login", zap.String("user_id", u.ID))
	writeJSON(w, http.StatusOK, loginResponse{ID: u.ID, Token: token, Username: u.Username, Email: u.Email, Roles: []string{"user"}})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.world.conversations(userFrom(r.Context()).ID))
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	recipient := req.RecipientID
	if u, ok := s.world.userByName(recipient); ok {
		recipient = u.ID
	}
	c, created, err := s.world.create(userFrom(r.Context()).ID, recipient)
	if err != nil {
		writeWorldError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

// handleListMessages returns the history; reading it marks the other side's
// messages READ and tells their senders.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, updates, err := s.world.readMessages(chi.URLParam(r, "conversationID"), userFrom(r.Context()).ID)
	if err != nil {
		writeWorldError(w, err)
		return
	}
	for _, m := range updates {
		s.pushStatus(m)
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.failSends.Load() {
		writeError(w, http.StatusServiceUnavailable, "sends are failing on purpose")
		return
	}
	var req struct {
		Content string `json:"content"`
		Type    string `json:"type"`
		TempID  string `json:"tempId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	m, err := s.deliver(chi.URLParam(r, "conversationID"), userFrom(r.Context()).ID, req.TempID, req.Content, req.Type)
	if err != nil {
		writeWorldError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	m, err := s.world.setStatus(chi.URLParam(r, "messageID"), req.Status)
	if err != nil {
		writeWorldError(w, err)
		return
	}
	s.pushStatus(m)
	writeJSON(w, http.StatusOK, m)
}
