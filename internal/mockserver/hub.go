package mockserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/bolechat/internal/realtime"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// peer is one open socket. gorilla connections allow a single writer, so
// writes are serialized per peer.
type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) send(f realtime.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(f)
}

// Hub tracks open sockets by user id.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]map[*peer]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{peers: make(map[string]map[*peer]struct{}), logger: logger}
}

func (h *Hub) register(userID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[userID] == nil {
		h.peers[userID] = make(map[*peer]struct{})
	}
	h.peers[userID][p] = struct{}{}
}

func (h *Hub) unregister(userID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.peers[userID]; ok {
		delete(peers, p)
		if len(peers) == 0 {
			delete(h.peers, userID)
		}
	}
}

// Online reports whether userID has at least one open socket.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers[userID]) > 0
}

// Push sends one frame to every socket of the given users. A failed write
// closes that socket; its read loop then unregisters it.
func (h *Hub) Push(userIDs []string, event string, data any) {
	f, err := realtime.NewFrame(event, data)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	var targets []*peer
	for _, uid := range userIDs {
		for p := range h.peers[uid] {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		if err := p.send(f); err != nil {
			h.logger.Debug("push failed, closing socket", zap.Error(err))
			_ = p.conn.Close()
		}
	}
}
