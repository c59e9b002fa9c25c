package api

import (
	"strings"

	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/rpc"
	"github.com/matheus3301/bolechat/internal/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const watchBuffer = 64

// watch forwards bus events to a Watch stream until the client goes away.
// Requested prefixes must fall within allowed; none means all of allowed.
func watch(b *bus.Bus, req *rpc.WatchRequest, stream rpc.EventStream, allowed []string, decorate func(*rpc.Event)) error {
	if b == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not initialized")
	}
	prefixes := allowed
	if len(req.Prefixes) > 0 {
		prefixes = nil
		for _, p := range req.Prefixes {
			if !within(p, allowed) {
				return grpcstatus.Errorf(codes.InvalidArgument, "prefix %q not served here", p)
			}
			prefixes = append(prefixes, p)
		}
	}

	ch, unsub := b.Subscribe(watchBuffer, prefixes...)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			out := toEvent(evt)
			if decorate != nil {
				decorate(out)
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

func within(prefix string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasPrefix(prefix, a) {
			return true
		}
	}
	return false
}

func toEvent(evt bus.Event) *rpc.Event {
	out := &rpc.Event{Kind: evt.Kind, AtMs: evt.Timestamp.UnixMilli()}
	switch p := evt.Payload.(type) {
	case chat.Change:
		out.ConversationID = p.ConversationID
		out.MessageID = p.MessageID
		out.TempID = p.TempID
		out.Error = p.Error
	case chat.Message:
		m := rpc.FromMessage(p)
		out.Message = &m
		out.ConversationID = m.ConversationID
		out.MessageID = m.ID
	case chat.StatusUpdate:
		out.MessageID = p.MessageID
		out.To = string(p.Status)
	case status.StatusChange:
		out.From = string(p.From)
		out.To = string(p.To)
	case string:
		out.Error = p
	}
	return out
}
