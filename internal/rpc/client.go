package rpc

import (
	"context"

	"google.golang.org/grpc"
)

type SessionClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionClient(cc grpc.ClientConnInterface) *SessionClient {
	return &SessionClient{cc: cc}
}

func (c *SessionClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := invoke(ctx, c.cc, SessionServiceName, "Status", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	out := new(LoginResponse)
	if err := invoke(ctx, c.cc, SessionServiceName, "Login", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	out := new(LogoutResponse)
	if err := invoke(ctx, c.cc, SessionServiceName, "Logout", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (*EventReceiver, error) {
	return watch(ctx, c.cc, &SessionServiceDesc, in, opts)
}

type ConversationClient struct {
	cc grpc.ClientConnInterface
}

func NewConversationClient(cc grpc.ClientConnInterface) *ConversationClient {
	return &ConversationClient{cc: cc}
}

func (c *ConversationClient) List(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	out := new(ListConversationsResponse)
	if err := invoke(ctx, c.cc, ConversationServiceName, "List", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ConversationClient) Create(ctx context.Context, in *CreateConversationRequest, opts ...grpc.CallOption) (*CreateConversationResponse, error) {
	out := new(CreateConversationResponse)
	if err := invoke(ctx, c.cc, ConversationServiceName, "Create", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ConversationClient) Open(ctx context.Context, in *OpenConversationRequest, opts ...grpc.CallOption) (*OpenConversationResponse, error) {
	out := new(OpenConversationResponse)
	if err := invoke(ctx, c.cc, ConversationServiceName, "Open", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ConversationClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (*EventReceiver, error) {
	return watch(ctx, c.cc, &ConversationServiceDesc, in, opts)
}

type MessageClient struct {
	cc grpc.ClientConnInterface
}

func NewMessageClient(cc grpc.ClientConnInterface) *MessageClient {
	return &MessageClient{cc: cc}
}

func (c *MessageClient) List(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesResponse, error) {
	out := new(ListMessagesResponse)
	if err := invoke(ctx, c.cc, MessageServiceName, "List", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessageClient) Send(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	out := new(SendMessageResponse)
	if err := invoke(ctx, c.cc, MessageServiceName, "Send", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessageClient) Retry(ctx context.Context, in *RetryMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	out := new(SendMessageResponse)
	if err := invoke(ctx, c.cc, MessageServiceName, "Retry", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessageClient) Discard(ctx context.Context, in *DiscardMessageRequest, opts ...grpc.CallOption) (*DiscardMessageResponse, error) {
	out := new(DiscardMessageResponse)
	if err := invoke(ctx, c.cc, MessageServiceName, "Discard", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessageClient) Search(ctx context.Context, in *SearchMessagesRequest, opts ...grpc.CallOption) (*SearchMessagesResponse, error) {
	out := new(SearchMessagesResponse)
	if err := invoke(ctx, c.cc, MessageServiceName, "Search", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MessageClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (*EventReceiver, error) {
	return watch(ctx, c.cc, &MessageServiceDesc, in, opts)
}
