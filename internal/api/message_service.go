package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/rpc"
	"github.com/matheus3301/bolechat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const defaultPageSize = 50

// Sender is the durable send path.
type Sender interface {
	Send(ctx context.Context, conversationID, content string) (chat.Message, error)
	Retry(ctx context.Context, tempID string) (chat.Message, error)
	Discard(tempID string) (string, error)
}

// MessageService implements rpc.MessageServer.
type MessageService struct {
	store  *chat.Store
	sender Sender
	db     *store.DB
	bus    *bus.Bus
}

var _ rpc.MessageServer = (*MessageService)(nil)

func NewMessageService(s *chat.Store, sender Sender, db *store.DB, b *bus.Bus) *MessageService {
	return &MessageService{store: s, sender: sender, db: db, bus: b}
}

// List returns the newest page of a conversation from the store, or an
// older page out of the cache when BeforeMs is set.
func (s *MessageService) List(ctx context.Context, req *rpc.ListMessagesRequest) (*rpc.ListMessagesResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation id required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	if req.BeforeMs > 0 {
		if s.db == nil {
			return nil, grpcstatus.Error(codes.Unavailable, "cache not initialized")
		}
		msgs, err := s.db.ListMessages(req.ConversationID, time.UnixMilli(req.BeforeMs), limit)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
		}
		return &rpc.ListMessagesResponse{Messages: rpc.FromMessages(msgs), HasMore: len(msgs) == limit}, nil
	}

	if req.Refresh {
		if err := s.store.LoadMessages(ctx, req.ConversationID); err != nil {
			return nil, toStatus("load messages", err)
		}
	}
	msgs := s.store.Messages(req.ConversationID)
	hasMore := false
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
		hasMore = true
	}
	return &rpc.ListMessagesResponse{Messages: rpc.FromMessages(msgs), HasMore: hasMore}, nil
}

func (s *MessageService) Send(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	if _, ok := s.store.Conversation(req.ConversationID); !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", req.ConversationID)
	}
	m, err := s.sender.Send(ctx, req.ConversationID, req.Content)
	return s.sendResponse("send message", m, err)
}

func (s *MessageService) Retry(ctx context.Context, req *rpc.RetryMessageRequest) (*rpc.SendMessageResponse, error) {
	if req.TempID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "temp id required")
	}
	m, err := s.sender.Retry(ctx, req.TempID)
	return s.sendResponse("retry message", m, err)
}

// sendResponse reports a failed send as a FAILED placeholder rather than an
// RPC error; the caller decides between retry and discard.
func (s *MessageService) sendResponse(op string, m chat.Message, err error) (*rpc.SendMessageResponse, error) {
	var se *chat.SendError
	if errors.As(err, &se) {
		failed := chat.Message{
			Ref:            chat.Pending(se.TempID),
			ConversationID: se.ConversationID,
			SenderID:       s.store.Self(),
			Content:        se.Content,
			Type:           chat.TypeText,
			Status:         chat.StatusFailed,
		}
		for _, held := range s.store.Messages(se.ConversationID) {
			if held.Ref.IsPending() && held.Ref.TempID() == se.TempID {
				failed = held
				break
			}
		}
		return &rpc.SendMessageResponse{Message: rpc.FromMessage(failed), Failed: true, Error: se.Err.Error()}, nil
	}
	if err != nil {
		return nil, toStatus(op, err)
	}
	return &rpc.SendMessageResponse{Message: rpc.FromMessage(m)}, nil
}

func (s *MessageService) Discard(_ context.Context, req *rpc.DiscardMessageRequest) (*rpc.DiscardMessageResponse, error) {
	content, err := s.sender.Discard(req.TempID)
	if err != nil {
		return nil, toStatus("discard message", err)
	}
	return &rpc.DiscardMessageResponse{Content: content}, nil
}

func (s *MessageService) Search(_ context.Context, req *rpc.SearchMessagesRequest) (*rpc.SearchMessagesResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query required")
	}
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "cache not initialized")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	results, err := s.db.SearchMessages(query, req.ConversationID, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	out := make([]rpc.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, rpc.SearchResult{Message: rpc.FromMessage(r.Message), Snippet: r.Snippet})
	}
	return &rpc.SearchMessagesResponse{Results: out, HasMore: len(results) == limit}, nil
}

// Watch streams message events, each carrying the message as the store
// holds it after the change.
func (s *MessageService) Watch(req *rpc.WatchRequest, stream rpc.EventStream) error {
	return watch(s.bus, req, stream, []string{"message."}, s.attach)
}

func (s *MessageService) attach(e *rpc.Event) {
	if e.Message != nil || e.ConversationID == "" {
		return
	}
	for _, m := range s.store.Messages(e.ConversationID) {
		if (e.MessageID != "" && m.Ref.ServerID() == e.MessageID) ||
			(e.MessageID == "" && e.TempID != "" && m.Ref.TempID() == e.TempID) {
			out := rpc.FromMessage(m)
			e.Message = &out
			return
		}
	}
}
