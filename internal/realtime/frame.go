package realtime

import (
	"encoding/json"
)

// Wire event names on the push channel.
const (
	FrameNewMessage    = "newMessage"
	FrameMessageStatus = "messageStatus"
	FrameSendMessage   = "sendMessage"
)

// Bus event kinds published by the EventHandler.
const (
	EventMessage      = "rt.message"
	EventStatus       = "rt.status"
	EventConnected    = "rt.connected"
	EventDisconnected = "rt.disconnected"
	EventUnauthorized = "rt.unauthorized"
)

// Frame is one JSON text frame: {"event": ..., "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes data into a Frame.
func NewFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}
