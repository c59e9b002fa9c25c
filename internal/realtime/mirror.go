package realtime

import (
	"context"
	"time"

	"github.com/matheus3301/bolechat/internal/chat"
	"go.uber.org/zap"
)

// Emitter writes frames to the push channel.
type Emitter interface {
	Emit(event string, data any) error
}

type outgoing struct {
	TempID         string    `json:"tempId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId,omitempty"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// MirroredBackend announces each send on the push channel before handing
// it to the REST backend, which stays authoritative. An announce failure
// is logged and ignored.
type MirroredBackend struct {
	chat.Backend
	emitter Emitter
	self    func() string
	logger  *zap.Logger
}

// Mirror wraps b so sends are also emitted through e. self returns the
// signed-in user id stamped on the frame.
func Mirror(b chat.Backend, e Emitter, self func() string, logger *zap.Logger) *MirroredBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if self == nil {
		self = func() string { return "" }
	}
	return &MirroredBackend{Backend: b, emitter: e, self: self, logger: logger}
}

func (m *MirroredBackend) SendMessage(ctx context.Context, conversationID, tempID, content string, typ chat.MessageType) (*chat.Message, error) {
	err := m.emitter.Emit(FrameSendMessage, outgoing{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       m.self(),
		Content:        content,
		Type:           string(typ),
		Status:         string(chat.StatusSent),
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		m.logger.Debug("send not announced on push channel", zap.String("temp_id", tempID), zap.Error(err))
	}
	return m.Backend.SendMessage(ctx, conversationID, tempID, content, typ)
}
