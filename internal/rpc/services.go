package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	SessionServiceName      = "bolechat.v1.SessionService"
	ConversationServiceName = "bolechat.v1.ConversationService"
	MessageServiceName      = "bolechat.v1.MessageService"
)

// SessionServer reports daemon state and owns authentication.
type SessionServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Watch(*WatchRequest, EventStream) error
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "Status", SessionServer.Status),
		unary(SessionServiceName, "Login", SessionServer.Login),
		unary(SessionServiceName, "Logout", SessionServer.Logout),
	},
	Streams:  []grpc.StreamDesc{watchStream(SessionServer.Watch)},
	Metadata: "bolechat/v1/session",
}

func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

type ConversationServer interface {
	List(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	Create(context.Context, *CreateConversationRequest) (*CreateConversationResponse, error)
	Open(context.Context, *OpenConversationRequest) (*OpenConversationResponse, error)
	Watch(*WatchRequest, EventStream) error
}

var ConversationServiceDesc = grpc.ServiceDesc{
	ServiceName: ConversationServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ConversationServiceName, "List", ConversationServer.List),
		unary(ConversationServiceName, "Create", ConversationServer.Create),
		unary(ConversationServiceName, "Open", ConversationServer.Open),
	},
	Streams:  []grpc.StreamDesc{watchStream(ConversationServer.Watch)},
	Metadata: "bolechat/v1/conversation",
}

func RegisterConversationServer(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&ConversationServiceDesc, srv)
}

type MessageServer interface {
	List(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	Send(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	Retry(context.Context, *RetryMessageRequest) (*SendMessageResponse, error)
	Discard(context.Context, *DiscardMessageRequest) (*DiscardMessageResponse, error)
	Search(context.Context, *SearchMessagesRequest) (*SearchMessagesResponse, error)
	Watch(*WatchRequest, EventStream) error
}

var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "List", MessageServer.List),
		unary(MessageServiceName, "Send", MessageServer.Send),
		unary(MessageServiceName, "Retry", MessageServer.Retry),
		unary(MessageServiceName, "Discard", MessageServer.Discard),
		unary(MessageServiceName, "Search", MessageServer.Search),
	},
	Streams:  []grpc.StreamDesc{watchStream(MessageServer.Watch)},
	Metadata: "bolechat/v1/message",
}

func RegisterMessageServer(s grpc.ServiceRegistrar, srv MessageServer) {
	s.RegisterService(&MessageServiceDesc, srv)
}
