package realtime

import (
	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/status"
	"go.uber.org/zap"
)

// EventHandler turns push frames into bus events and drives the state
// machine. It never touches the conversation store; the sync engine
// subscribes to the bus independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

var _ Handler = (*EventHandler)(nil)

func NewEventHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{bus: b, machine: machine, logger: logger}
}

func (h *EventHandler) HandleFrame(f Frame) {
	switch f.Event {
	case FrameNewMessage:
		m, err := backend.DecodeMessage(f.Data)
		if err != nil {
			h.logger.Warn("malformed newMessage frame", zap.Error(err))
			return
		}
		if m.Ref.IsPending() || m.ConversationID == "" {
			h.logger.Warn("newMessage frame without ids")
			return
		}
		h.bus.Publish(bus.Event{Kind: EventMessage, Payload: m})
	case FrameMessageStatus:
		u, err := backend.DecodeStatus(f.Data)
		if err != nil || u.MessageID == "" {
			h.logger.Warn("malformed messageStatus frame", zap.Error(err))
			return
		}
		h.bus.Publish(bus.Event{Kind: EventStatus, Payload: u})
	default:
		h.logger.Debug("ignoring push frame", zap.String("event", f.Event))
	}
}

func (h *EventHandler) Connected() {
	if err := h.machine.Advance(status.Connecting, status.Syncing); err != nil {
		h.logger.Debug("status not advanced on connect", zap.Error(err))
	}
	h.bus.Publish(bus.Event{Kind: EventConnected})
}

func (h *EventHandler) Disconnected(err error) {
	_ = h.machine.Transition(status.Reconnecting)
	var reason string
	if err != nil {
		reason = err.Error()
	}
	h.bus.Publish(bus.Event{Kind: EventDisconnected, Payload: reason})
}

func (h *EventHandler) Unauthorized() {
	_ = h.machine.Transition(status.AuthRequired)
	h.bus.Publish(bus.Event{Kind: EventUnauthorized})
}
