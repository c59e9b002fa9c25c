package mockserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/bolechat/internal/realtime"
	"go.uber.org/zap"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
			if origin == "" {
				return true
			}
			for _, o := range s.origins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleWS authenticates with ?token= or a bearer header before upgrading,
// so a bad token is answered with a plain 401.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = bearer(r)
	}
	uid, err := s.tokens.Verify(raw)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if _, ok := s.world.user(uid); !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}
	s.hub.register(uid, p)
	s.logger.Info("socket opened", zap.String("user_id", uid))
	defer func() {
		s.hub.unregister(uid, p)
		_ = conn.Close()
		s.logger.Info("socket closed", zap.String("user_id", uid))
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		p.mu.Lock()
		defer p.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		switch f.Event {
		case realtime.FrameSendMessage:
			// REST is authoritative for sends; the announcement is only logged.
			s.logger.Debug("send announced on socket", zap.String("user_id", uid), zap.ByteString("data", f.Data))
		default:
			s.logger.Debug("ignoring frame", zap.String("event", f.Event))
		}
	}
}
