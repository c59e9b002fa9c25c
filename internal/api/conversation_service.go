package api

import (
	"context"
	"strings"

	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/rpc"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ConversationService implements rpc.ConversationServer.
type ConversationService struct {
	store  *chat.Store
	syncer Syncer
	bus    *bus.Bus
	logger *zap.Logger
}

var _ rpc.ConversationServer = (*ConversationService)(nil)

func NewConversationService(s *chat.Store, syncer Syncer, b *bus.Bus, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{store: s, syncer: syncer, bus: b, logger: logger}
}

// List returns the conversations in last-activity order, reconciling with
// the backend first when asked to.
func (s *ConversationService) List(ctx context.Context, req *rpc.ListConversationsRequest) (*rpc.ListConversationsResponse, error) {
	if req.Refresh {
		if err := s.syncer.Reconcile(ctx); err != nil {
			return nil, toStatus("refresh conversations", err)
		}
	}
	return &rpc.ListConversationsResponse{
		Conversations: rpc.FromConversations(s.store.Conversations()),
		Current:       s.store.Current(),
	}, nil
}

func (s *ConversationService) Create(ctx context.Context, req *rpc.CreateConversationRequest) (*rpc.CreateConversationResponse, error) {
	recipient := strings.TrimSpace(req.RecipientID)
	if recipient == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "recipient id required")
	}
	c, err := s.store.CreateConversation(ctx, recipient)
	if err != nil {
		return nil, toStatus("create conversation", err)
	}
	return &rpc.CreateConversationResponse{Conversation: rpc.FromConversation(c)}, nil
}

// Open makes a conversation current and returns its messages. History is
// fetched when asked to or when nothing is held for it yet; a failed fetch
// of the latter kind falls back to what is held.
func (s *ConversationService) Open(ctx context.Context, req *rpc.OpenConversationRequest) (*rpc.OpenConversationResponse, error) {
	if _, ok := s.store.Conversation(req.ConversationID); !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", req.ConversationID)
	}
	s.store.SetCurrentConversation(req.ConversationID)

	if req.Refresh || len(s.store.Messages(req.ConversationID)) == 0 {
		if err := s.store.LoadMessages(ctx, req.ConversationID); err != nil {
			if req.Refresh {
				return nil, toStatus("load messages", err)
			}
			s.logger.Warn("serving cached messages", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		}
	}

	c, _ := s.store.Conversation(req.ConversationID)
	return &rpc.OpenConversationResponse{
		Conversation: rpc.FromConversation(c),
		Messages:     rpc.FromMessages(s.store.Messages(req.ConversationID)),
	}, nil
}

func (s *ConversationService) Watch(req *rpc.WatchRequest, stream rpc.EventStream) error {
	return watch(s.bus, req, stream, []string{"conversation."}, nil)
}
